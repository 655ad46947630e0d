package events

import "github.com/meridianlabs/testorch/models"

// TestRunStartedFields builds the payload for test_run_started.
func TestRunStartedFields(runID string, mode models.RunMode, networks []string, testTypes []models.TestType) map[string]interface{} {
	return map[string]interface{}{"runId": runID, "mode": mode, "networks": networks, "testTypes": testTypes}
}

// NetworkStartedFields builds the payload for network_started.
func NetworkStartedFields(runID, networkID string) map[string]interface{} {
	return map[string]interface{}{"runId": runID, "networkId": networkID}
}

// TestCompletedFields builds the payload for test_completed.
func TestCompletedFields(runID string, totals models.Totals, perNetwork []models.NetworkResult) map[string]interface{} {
	return map[string]interface{}{"runId": runID, "totals": totals, "perNetwork": perNetwork}
}

// RegressionDetectedFields builds the payload for regression_detected.
func RegressionDetectedFields(networkID, metricName string, severity models.Severity, percentageChange, confidence float64) map[string]interface{} {
	return map[string]interface{}{
		"networkId": networkID, "metricName": metricName, "severity": severity,
		"percentageChange": percentageChange, "confidence": confidence,
	}
}

// AlertTriggeredFields builds the payload for alert_triggered.
func AlertTriggeredFields(alert models.Alert) map[string]interface{} {
	return map[string]interface{}{"alert": alert}
}

// NetworkStatusChangedFields builds the payload for network_status_changed.
func NetworkStatusChangedFields(status models.NetworkStatus) map[string]interface{} {
	return map[string]interface{}{
		"networkId": status.NetworkID, "online": status.Online, "blockNumber": status.BlockNumber,
		"gasPrice": status.GasPrice, "responseTimeMs": status.ResponseTimeMs,
	}
}
