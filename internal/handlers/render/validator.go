package render

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// iOS identifierForVendor is an uppercase uuid, Android ID is 16 hex chars
var vendorIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{7,127}$`)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("vendorid", validateVendorID)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateVendorID(fl validator.FieldLevel) bool {
	return vendorIDRe.MatchString(fl.Field().String())
}
