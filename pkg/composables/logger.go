package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/usignal/usignal/pkg/constants"
)

// UseLogger returns the request-scoped logger placed in the context by the
// logging middleware, or the standard logger when none is present.
func UseLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
