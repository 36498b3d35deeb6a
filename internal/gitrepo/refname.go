package gitrepo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	refNameEmptyMessageConstant           = "ref name must not be empty"
	refNameInvalidErrorTemplateConstant   = "invalid ref name %q"
	refNameForbiddenDotDotConstant        = ".."
	refNameForbiddenDoubleSlashConstant   = "//"
	refNameForbiddenLockSuffixConstant    = ".lock"
	refNameForbiddenLeadingDotConstant    = "."
	refNameForbiddenLeadingDashConstant   = "-"
	refNameForbiddenLeadingSlashConstant  = "/"
	refNameForbiddenTrailingSlashConstant = "/"
	refNameForbiddenTrailingDotConstant   = "."
)

// refNamePattern restricts ref arguments to common ref and hash syntax so
// branch names can never smuggle options or shell metacharacters into git.
var refNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._/@^~-]+$`)

// ErrRefNameEmpty indicates an empty ref argument.
var ErrRefNameEmpty = errors.New(refNameEmptyMessageConstant)

// RefNameInvalidError indicates a ref argument failed the allow-list check.
type RefNameInvalidError struct {
	RefName string
}

// Error describes the rejected ref.
func (invalidError RefNameInvalidError) Error() string {
	return fmt.Sprintf(refNameInvalidErrorTemplateConstant, invalidError.RefName)
}

// ValidateRefName rejects refs that are empty or outside the allow-list pattern.
func ValidateRefName(refName string) error {
	if len(strings.TrimSpace(refName)) == 0 {
		return ErrRefNameEmpty
	}
	if strings.HasPrefix(refName, refNameForbiddenLeadingDotConstant) ||
		strings.HasPrefix(refName, refNameForbiddenLeadingDashConstant) ||
		strings.HasPrefix(refName, refNameForbiddenLeadingSlashConstant) {
		return RefNameInvalidError{RefName: refName}
	}
	if strings.HasSuffix(refName, refNameForbiddenTrailingSlashConstant) ||
		strings.HasSuffix(refName, refNameForbiddenTrailingDotConstant) ||
		strings.HasSuffix(refName, refNameForbiddenLockSuffixConstant) {
		return RefNameInvalidError{RefName: refName}
	}
	if strings.Contains(refName, refNameForbiddenDotDotConstant) || strings.Contains(refName, refNameForbiddenDoubleSlashConstant) {
		return RefNameInvalidError{RefName: refName}
	}
	if !refNamePattern.MatchString(refName) {
		return RefNameInvalidError{RefName: refName}
	}
	return nil
}
