package service

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rollcall/internal/model"
)

func reportSnapshot() model.Snapshot {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	leave := base.Add(12 * time.Minute)
	alice := model.AttendanceRecord{
		Identity: "alice", SessionID: "s1", Name: "Alice", Role: model.RoleStudent,
		JoinTime: base, LeaveTime: &leave, Duration: 12, TotalDuration: 12, JoinCount: 1, LastActive: leave,
	}
	bob := model.AttendanceRecord{
		Identity: "bob", SessionID: "s2", Role: model.RoleGuardian,
		JoinTime: base.Add(5 * time.Minute), Active: true, Duration: 20, TotalDuration: 27, JoinCount: 2,
		LastActive: base.Add(25 * time.Minute),
	}
	return model.Snapshot{
		Records:            []model.AttendanceRecord{alice, bob},
		ActiveParticipants: []model.AttendanceRecord{bob},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestReport_RowsOrderedByLastActive(t *testing.T) {
	rows := NewReportService(nil).Rows(reportSnapshot())
	require.Len(t, rows, 2)

	assert.Equal(t, "bob", rows[0].Name, "identity stands in for a missing name")
	assert.Equal(t, "Active", rows[0].Status)
	assert.Equal(t, "-", rows[0].LeaveTime)
	assert.Equal(t, 27, rows[0].TotalDuration)

	assert.Equal(t, "Alice", rows[1].Name)
	assert.Equal(t, "Left", rows[1].Status)
	assert.Equal(t, "2026-03-02", rows[1].JoinDate)
	assert.Equal(t, "09:00:00", rows[1].JoinTime)
	assert.Equal(t, "09:12:00", rows[1].LeaveTime)
}

func TestReport_CSV(t *testing.T) {
	svc := NewReportService(nil)
	snap := reportSnapshot()
	info := svc.Info("math-7b", snap, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf, FormatCSV, info, snap))

	assert.Contains(t, buf.String(), "\n\nName,Role,", "blank line between info block and table")

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.FieldsPerRecord = -1
	lines, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{"Room", "math-7b"}, lines[0])
	assert.Equal(t, []string{"Total Participants", "2"}, lines[2])
	assert.Equal(t, []string{"Active Participants", "1"}, lines[3])
	assert.Equal(t, ReportColumns, lines[4])
	assert.Equal(t, []string{"bob", "guardian", "2026-03-02", "09:05:00", "-", "20", "27", "2", "Active"}, lines[5])
	assert.Len(t, lines, 7)
}

func TestReport_JSON(t *testing.T) {
	svc := NewReportService(nil)
	snap := reportSnapshot()
	info := svc.Info("math-7b", snap, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf, FormatJSON, info, snap))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "math-7b", doc["room"])
	assert.EqualValues(t, 2, doc["totalParticipants"])
	assert.EqualValues(t, 1, doc["activeParticipants"])
	assert.Len(t, doc["rows"], 2)
}

func TestReport_XLSXSheets(t *testing.T) {
	svc := NewReportService(nil)
	snap := reportSnapshot()
	info := svc.Info("math-7b", snap, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf, FormatXLSX, info, snap))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Room Info", "Attendance"}, f.GetSheetList())

	room, err := f.GetCellValue("Room Info", "B1")
	require.NoError(t, err)
	assert.Equal(t, "math-7b", room)

	rows, err := f.GetRows("Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ReportColumns, rows[0])
	assert.Equal(t, "Alice", rows[2][0])
	assert.Equal(t, "Left", rows[2][8])
}

func TestReport_UnknownFormat(t *testing.T) {
	svc := NewReportService(nil)
	var buf bytes.Buffer
	err := svc.Export(&buf, ExportFormat("pdf"), model.RoomInfo{}, model.Snapshot{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
