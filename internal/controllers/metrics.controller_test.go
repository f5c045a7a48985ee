package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"pideck/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type fakeMonitor struct {
	snap       models.SystemSnapshot
	history    []models.HistoricalMetricRecord
	historyErr error
	lastWindow time.Duration
	alerts     []models.ActiveAlert
}

func (m *fakeMonitor) GetSnapshot(context.Context) models.SystemSnapshot { return m.snap }

func (m *fakeMonitor) GetHistory(_ context.Context, window time.Duration) ([]models.HistoricalMetricRecord, error) {
	m.lastWindow = window
	return m.history, m.historyErr
}

func (m *fakeMonitor) GetActiveAlerts() []models.ActiveAlert { return m.alerts }

type fakeProcesses struct {
	procs []models.ProcessInfo
	err   error
}

func (p fakeProcesses) List(context.Context) ([]models.ProcessInfo, error) { return p.procs, p.err }

func newSystemRouter(sc *SystemController) *gin.Engine {
	r := gin.New()
	r.GET("/health", sc.Health)
	r.GET("/system/info", sc.GetInfo)
	r.GET("/system/history", sc.GetHistory)
	r.GET("/system/alerts", sc.GetAlerts)
	r.GET("/system/processes", sc.GetTopProcesses)
	return r
}

func TestSystemController_Health(t *testing.T) {
	now := time.UnixMilli(1714564800123)
	r := newSystemRouter(NewSystemController(&fakeMonitor{}, fakeProcesses{}, fixedClock(now)))

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"ts":1714564800123}`, w.Body.String())
}

func TestSystemController_InfoAndAlerts(t *testing.T) {
	mon := &fakeMonitor{
		snap:   models.SystemSnapshot{Hostname: "raspberrypi", CPUPercent: 3.5, Processes: []models.ProcessInfo{}},
		alerts: []models.ActiveAlert{},
	}
	r := newSystemRouter(NewSystemController(mon, fakeProcesses{}, nil))

	w := get(r, "/system/info")
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.SystemSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "raspberrypi", snap.Hostname)

	w = get(r, "/system/alerts")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSystemController_GetHistory(t *testing.T) {
	cases := []struct {
		desc       string
		query      string
		historyErr error
		wantCode   int
		wantWindow time.Duration
	}{
		{desc: "default window", query: "", wantCode: http.StatusOK},
		{desc: "explicit window", query: "?window=3600", wantCode: http.StatusOK, wantWindow: time.Hour},
		{desc: "not a number", query: "?window=abc", wantCode: http.StatusBadRequest},
		{desc: "negative", query: "?window=-5", wantCode: http.StatusBadRequest},
		{desc: "store failure", query: "", historyErr: errors.New("disk gone"), wantCode: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			mon := &fakeMonitor{history: []models.HistoricalMetricRecord{}, historyErr: tc.historyErr}
			r := newSystemRouter(NewSystemController(mon, fakeProcesses{}, nil))

			w := get(r, "/system/history"+tc.query)
			assert.Equal(t, tc.wantCode, w.Code)
			if tc.wantCode == http.StatusOK {
				assert.Equal(t, tc.wantWindow, mon.lastWindow)
				assert.JSONEq(t, `[]`, w.Body.String())
			}
		})
	}
}

func TestSystemController_GetTopProcesses(t *testing.T) {
	procs := make([]models.ProcessInfo, 0, 30)
	for i := range 30 {
		procs = append(procs, models.ProcessInfo{PID: int32(i + 1), Name: "worker", CPUPercent: float64(i)})
	}

	cases := []struct {
		desc      string
		query     string
		source    fakeProcesses
		wantCount int
		wantFirst int32
	}{
		{desc: "default count", query: "", source: fakeProcesses{procs: procs}, wantCount: 10, wantFirst: 30},
		{desc: "explicit count", query: "?n=3", source: fakeProcesses{procs: procs}, wantCount: 3, wantFirst: 30},
		{desc: "capped", query: "?n=500", source: fakeProcesses{procs: procs}, wantCount: 20, wantFirst: 30},
		{desc: "invalid falls back", query: "?n=zero", source: fakeProcesses{procs: procs}, wantCount: 10, wantFirst: 30},
		{desc: "listing fails", query: "", source: fakeProcesses{err: errors.New("ps missing")}, wantCount: 0},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			r := newSystemRouter(NewSystemController(&fakeMonitor{}, tc.source, nil))

			w := get(r, "/system/processes"+tc.query)
			require.Equal(t, http.StatusOK, w.Code)
			var got []models.ProcessInfo
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			require.Len(t, got, tc.wantCount)
			if tc.wantCount > 0 {
				assert.Equal(t, tc.wantFirst, got[0].PID)
			}
		})
	}
}
