// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/model"
)

func TestNotificationSinkRecordsShown(t *testing.T) {
	n := NewNotificationSink(nil)

	n.ShowVPNPermissionRequired()
	n.ShowBackendFailed(model.BackendPacketFilter)
	n.ShowVPNConflict()

	require.Equal(t, []string{"vpn-permission-required", "backend-failed", "vpn-conflict"}, n.Shown())
}

func TestNotificationSinkRecordsDismissed(t *testing.T) {
	n := NewNotificationSink(nil)

	n.Dismiss("backend-failed")
	require.Equal(t, []string{"backend-failed"}, n.Dismissed())
}
