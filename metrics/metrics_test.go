/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	r.SetRegistered(true)
	r.SetTransportConnected(true)
	r.SetTransportConnected(false)
	r.SetMaster(true)
	r.SetLiveSessions(2)
	r.RegisterAttempt(OutcomeStarted)
	r.RegisterAttempt(OutcomeThrottled)
	r.RegisterAttempt(OutcomeThrottled)
	r.Reconnect()
	r.DialogEvent("answered")
	r.CallAction("hangup", nil)
	r.CallAction("hangup", errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.registered))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.transportUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.master))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.liveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.registerAttempts.WithLabelValues(OutcomeThrottled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.callActions.WithLabelValues("hangup", "error")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)

	_, err = New(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.SetRegistered(true)
		r.SetTransportConnected(true)
		r.SetMaster(true)
		r.SetLiveSessions(1)
		r.RegisterAttempt(OutcomeGated)
		r.Reconnect()
		r.DialogEvent("created")
		r.CallAction("answer", nil)
	})

	unregistered, err := New(nil)
	require.NoError(t, err)
	unregistered.Reconnect()
}
