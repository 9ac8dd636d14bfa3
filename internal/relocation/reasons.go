package relocation

import (
	"fmt"
	"strings"
)

// Failure reasons are the only user-visible error surface of the pipeline:
// they are stored in failure_reason and quoted in the failure notification.
const (
	ErrUploadingFailed = "Internal error during file upload."

	ErrPreprocessingDecryption     = "Could not decrypt the imported JSON - are you sure you used the correct public key?"
	ErrPreprocessingInternal       = "Internal error during preprocessing."
	ErrPreprocessingInvalidJSON    = "Invalid input JSON."
	ErrPreprocessingInvalidTarball = "The import tarball you provided was invalid."
	ErrPreprocessingNoUsers        = "The submitted JSON contains no users."
	ErrPreprocessingNoOrgs         = "The submitted JSON contains no orgs."

	ErrValidatingInternal = "Internal error during validation."
	ErrValidatingMaxRuns  = "All validation attempts timed out."

	ErrImportingInternal      = "Internal error during importing."
	ErrPostprocessingInternal = "Internal error during postprocessing."
	ErrNotifyingInternal      = "Internal error during relocation notification."
	ErrCompletedInternal      = "Internal error during relocation wrap-up."
)

// ErrPreprocessingTooManyUsers is the reason for an archive over the user limit.
func ErrPreprocessingTooManyUsers(count, max int) string {
	return fmt.Sprintf("The submitted JSON contains %d users, but the maximum allowed is %d.", count, max)
}

// ErrPreprocessingTooManyOrgs is the reason for an archive over the org limit.
func ErrPreprocessingTooManyOrgs(count, max int) string {
	return fmt.Sprintf("The submitted JSON contains %d orgs, but the maximum allowed is %d.", count, max)
}

// ErrPreprocessingMissingOrgs lists requested slugs absent from the archive.
func ErrPreprocessingMissingOrgs(slugs []string) string {
	return fmt.Sprintf("The following orgs were not found in the import JSON: %s", strings.Join(slugs, ","))
}

// ErrValidatingInvalid summarizes the findings of the last validation run.
func ErrValidatingInvalid(count int, first string) string {
	return fmt.Sprintf("The submitted data failed validation with %d finding(s); the first was: %s", count, first)
}
