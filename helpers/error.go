package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors collapses a list into one error, one message per line.
// nil entries are skipped; a list of only nils folds to nil.
func FoldErrors(errs []error) error {
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	// errors.New, not Errorf: messages may contain format verbs
	return errors.New(strings.Join(ss, "\n"))
}
