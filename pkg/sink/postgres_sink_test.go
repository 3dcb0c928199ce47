package sink

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertTableDDL(t *testing.T) {
	ddl := fmt.Sprintf(alertTableDDL, "fraud_alerts")

	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS fraud_alerts")
	assert.Contains(t, ddl, "idx_fraud_alerts_rule_window")
	assert.Contains(t, ddl, "idx_fraud_alerts_status")

	// Scores are floats; an integer column would reject fractional values.
	assert.Contains(t, ddl, "score         DOUBLE PRECISION NOT NULL")
	assert.False(t, strings.Contains(ddl, "INTEGER"))
}
