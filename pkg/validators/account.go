package validators

import (
	"fmt"

	"github.com/asaskevich/govalidator"
)

// ValidateUUID validates that value is a well-formed UUID, generalizing
// the govalidator-backed shape check ValidateEmail already does for
// email addresses to the id fields on the command surface.
func ValidateUUID(fieldName string, value string) *ValidationResult {
	userFriendlyName := ToUserFriendlyName(fieldName)

	if len(value) == 0 {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s is required", userFriendlyName)),
			WithSuggestedAction("Please provide a valid UUID."),
			WithValidationCode(ValidationCodeRequired),
		)
	}

	if !govalidator.IsUUID(value) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be a valid UUID", userFriendlyName)),
			WithSuggestedAction("Please provide a valid UUID, e.g., '123e4567-e89b-12d3-a456-426614174000'."),
			WithValidationCode(ValidationCodeInvalid),
		)
	}

	return NewValidationResult(true, fieldName, WithValue(value), WithValidationCode(ValidationCodeSuccess))
}

// ValidateHolderName validates the free-text account holder name field
// shared by OpenAccount and ChangeAccountHolderName.
func ValidateHolderName(value string) *ValidationResult {
	return ValidateStringLength(value, "holder_name", 1, 200)
}
