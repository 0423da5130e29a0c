package fuel

import "fmt"

// UnsupportedVendorError is returned for a scraper identifier outside the
// known vendor set.
type UnsupportedVendorError struct {
	Vendor string
}

func (e *UnsupportedVendorError) Error() string {
	return fmt.Sprintf("processing of vendor %q is not supported", e.Vendor)
}

// UnknownFuelLabelError means a label or code has no taxonomy entry.
type UnknownFuelLabelError struct {
	Vendor Vendor
	Label  string
	Code   FuelCode
}

func (e *UnknownFuelLabelError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("vendor %s: label %q has no canonical fuel code", e.Vendor, e.Label)
	}
	if e.Vendor != "" {
		return fmt.Sprintf("vendor %s: no label for fuel code %q", e.Vendor, e.Code)
	}
	return fmt.Sprintf("fuel code %q has no category", e.Code)
}
