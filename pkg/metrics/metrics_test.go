package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveVerification(t *testing.T) {
	before := testutil.ToFloat64(VerificationsTotal.WithLabelValues("invalid", "CREDENTIAL_EXPIRED"))
	ObserveVerification(false, "CREDENTIAL_EXPIRED", time.Millisecond)
	after := testutil.ToFloat64(VerificationsTotal.WithLabelValues("invalid", "CREDENTIAL_EXPIRED"))
	assert.Equal(t, before+1, after)

	beforeOK := testutil.ToFloat64(VerificationsTotal.WithLabelValues("valid", "OK"))
	ObserveVerification(true, "ignored", time.Millisecond)
	assert.Equal(t, beforeOK+1, testutil.ToFloat64(VerificationsTotal.WithLabelValues("valid", "OK")))
}

func TestObservePermission(t *testing.T) {
	before := testutil.ToFloat64(PermissionDecisionsTotal.WithLabelValues("denied"))
	ObservePermission(false)
	assert.Equal(t, before+1, testutil.ToFloat64(PermissionDecisionsTotal.WithLabelValues("denied")))
}
