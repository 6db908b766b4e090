package fleet

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a fresh, unpredictable BackendId with well over the
// spec's minimum of 8 alphanumeric characters of entropy, suitable both as a
// routing identity and as the container name passed to the driver.
func GenerateID() string {
	return "srv-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
