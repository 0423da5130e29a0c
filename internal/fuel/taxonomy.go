// Package fuel holds the static fuel taxonomy: vendor label tables, the
// canonical fuel codes they map onto and the general categories above them.
package fuel

import (
	"fmt"
	"regexp"
)

// Vendor identifies a station operator whose price boards we know how to read.
type Vendor string

const (
	VendorPetrol Vendor = "petrol"
	VendorOMV    Vendor = "omv"
)

// FuelCode is the vendor independent identifier of a fuel product.
type FuelCode string

const (
	CodeUnleaded95    FuelCode = "ron95"
	CodeUnleaded98    FuelCode = "ron98"
	CodeUnleaded100   FuelCode = "ron100"
	CodeDiesel        FuelCode = "diesel"
	CodeDieselPremium FuelCode = "diesel_premium"
	CodeLPG           FuelCode = "lpg"
	CodeHeatingOil    FuelCode = "heating_oil"
)

// Category groups canonical codes, e.g. every diesel variant.
type Category string

const (
	CategoryGasoline   Category = "gasoline"
	CategoryDiesel     Category = "diesel"
	CategoryAutogas    Category = "autogas"
	CategoryHeatingOil Category = "heating"
)

// MismatchPolicy decides what happens when the number of matched labels
// differs from the number of price tokens found on a board.
type MismatchPolicy int

const (
	// Lenient pairs as many labels and prices as are available.
	Lenient MismatchPolicy = iota
	// Strict treats a mismatch as a malformed board and yields nothing.
	Strict
)

func (p MismatchPolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "lenient"
}

// LabelPattern ties a vendor label to the expression that finds it in OCR text.
type LabelPattern struct {
	Label   string
	Pattern *regexp.Regexp
}

// VendorTable is everything the extractor needs to read one vendor's boards.
// Labels are kept in declaration order; pairing with prices depends on it.
type VendorTable struct {
	Vendor Vendor
	Labels []LabelPattern
	Policy MismatchPolicy
}

// codeInfo is one row of the canonical code table.
type codeInfo struct {
	code     FuelCode
	category Category
}

// canonicalCodes is declared in the order used when generalizing prices.
var canonicalCodes = []codeInfo{
	{CodeUnleaded95, CategoryGasoline},
	{CodeUnleaded98, CategoryGasoline},
	{CodeUnleaded100, CategoryGasoline},
	{CodeDiesel, CategoryDiesel},
	{CodeDieselPremium, CategoryDiesel},
	{CodeLPG, CategoryAutogas},
	{CodeHeatingOil, CategoryHeatingOil},
}

func label(name, expr string) LabelPattern {
	return LabelPattern{Label: name, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

var vendorTables = map[Vendor]VendorTable{
	VendorPetrol: {
		Vendor: VendorPetrol,
		Policy: Lenient,
		Labels: []LabelPattern{
			label("Q Max 95", `q\s*max\s*95`),
			label("Q Max 100", `q\s*max\s*100`),
			label("Q Max Diesel", `q\s*max\s*diesel`),
			label("Bencin 95", `bencin\s*95`),
			label("Dizel", `\bdizel\b`),
			label("Avtoplin", `avtoplin`),
			label("Kurilno olje", `kurilno\s*olje`),
		},
	},
	VendorOMV: {
		Vendor: VendorOMV,
		Policy: Strict,
		Labels: []LabelPattern{
			label("OMV 95", `omv\s*95`),
			label("OMV MaxxMotion 100", `maxxmotion\s*100`),
			label("OMV Diesel", `omv\s*diesel`),
			label("OMV MaxxMotion Diesel", `maxxmotion\s*diesel`),
			label("OMV Avtoplin (LPG)", `avtoplin`),
			label("OMV Kurilno olje", `kurilno\s*olje`),
		},
	},
}

var vendorCodes = map[Vendor]map[string]FuelCode{
	VendorPetrol: {
		"Q Max 95":     CodeUnleaded95,
		"Q Max 100":    CodeUnleaded100,
		"Q Max Diesel": CodeDieselPremium,
		"Bencin 95":    CodeUnleaded95,
		"Dizel":        CodeDiesel,
		"Avtoplin":     CodeLPG,
		"Kurilno olje": CodeHeatingOil,
	},
	VendorOMV: {
		"OMV 95":                CodeUnleaded95,
		"OMV MaxxMotion 100":    CodeUnleaded100,
		"OMV Diesel":            CodeDiesel,
		"OMV MaxxMotion Diesel": CodeDieselPremium,
		"OMV Avtoplin (LPG)":    CodeLPG,
		"OMV Kurilno olje":      CodeHeatingOil,
	},
}

// ParseVendor maps a scraper identifier onto the closed vendor set.
func ParseVendor(s string) (Vendor, error) {
	v := Vendor(s)
	if _, ok := vendorTables[v]; !ok {
		return "", &UnsupportedVendorError{Vendor: s}
	}
	return v, nil
}

// Vendors returns the supported vendors.
func Vendors() []Vendor {
	return []Vendor{VendorPetrol, VendorOMV}
}

// Table returns the label table and mismatch policy of a vendor.
func Table(v Vendor) (VendorTable, error) {
	t, ok := vendorTables[v]
	if !ok {
		return VendorTable{}, &UnsupportedVendorError{Vendor: string(v)}
	}
	return t, nil
}

// Code maps a vendor label onto its canonical fuel code.
func Code(v Vendor, vendorLabel string) (FuelCode, error) {
	codes, ok := vendorCodes[v]
	if !ok {
		return "", &UnsupportedVendorError{Vendor: string(v)}
	}
	code, ok := codes[vendorLabel]
	if !ok {
		return "", &UnknownFuelLabelError{Vendor: v, Label: vendorLabel}
	}
	return code, nil
}

// Label is the reverse of Code: the label a vendor prints for a canonical code.
// When several labels map to the same code the first declared one is returned.
func Label(v Vendor, code FuelCode) (string, error) {
	t, err := Table(v)
	if err != nil {
		return "", err
	}
	for _, lp := range t.Labels {
		if vendorCodes[v][lp.Label] == code {
			return lp.Label, nil
		}
	}
	return "", &UnknownFuelLabelError{Vendor: v, Code: code}
}

// CategoryOf returns the general category of a canonical code.
func CategoryOf(code FuelCode) (Category, error) {
	for _, ci := range canonicalCodes {
		if ci.code == code {
			return ci.category, nil
		}
	}
	return "", &UnknownFuelLabelError{Code: code}
}

// Codes lists the canonical codes in declaration order.
func Codes() []FuelCode {
	out := make([]FuelCode, 0, len(canonicalCodes))
	for _, ci := range canonicalCodes {
		out = append(out, ci.code)
	}
	return out
}

// Validate checks that the pattern tables, label tables and category table
// agree with each other. A failure means the tables were edited out of sync.
func Validate() error {
	for _, v := range Vendors() {
		t, err := Table(v)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(t.Labels))
		for _, lp := range t.Labels {
			if seen[lp.Label] {
				return fmt.Errorf("vendor %s: duplicate label %q", v, lp.Label)
			}
			seen[lp.Label] = true
			code, err := Code(v, lp.Label)
			if err != nil {
				return err
			}
			if _, err := CategoryOf(code); err != nil {
				return err
			}
		}
		for l := range vendorCodes[v] {
			if !seen[l] {
				return fmt.Errorf("vendor %s: label %q has a code but no pattern", v, l)
			}
		}
	}
	return nil
}
