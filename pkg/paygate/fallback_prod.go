//go:build production

package paygate

import "github.com/sirupsen/logrus"

// DevGatewayAvailable is false in builds tagged production
const DevGatewayAvailable = false

// NewDevGateway always fails in production builds
func NewDevGateway(logger *logrus.Logger) (Gateway, error) {
	return nil, ErrDevGatewayUnavailable
}
