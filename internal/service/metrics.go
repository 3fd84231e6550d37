package service

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/authservice/pkg/errors"
)

// Operation labels for auth_operations_total.
const (
	opRegister  = "register"
	opLogin     = "login"
	opRefresh   = "refresh"
	opLogout    = "logout"
	opLogoutAll = "logout_all"
	opFederated = "federated_signin"
)

// Metrics counts auth engine outcomes.
type Metrics struct {
	operations *prometheus.CounterVec
}

// NewMetrics registers the auth collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth engine operations by outcome",
		}, []string{"operation", "outcome"}),
	}
}

// observe records one operation. The outcome is "success" or the
// lower-cased AppError code, e.g. "invalid_credentials".
func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	if errors.Is(err, apperrors.ErrValidation) {
		return "validation_error"
	}
	return "internal_error"
}
