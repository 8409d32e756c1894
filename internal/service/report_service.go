package service

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/model"
)

// ErrUnknownFormat is returned for export formats other than csv, json and xlsx
var ErrUnknownFormat = errors.New("unknown export format")

// ExportFormat is an attendance export encoding
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatXLSX ExportFormat = "xlsx"
)

// ParseFormat accepts csv, json and xlsx (case-insensitive). Empty means csv.
func ParseFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the HTTP media type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// FileName is the suggested download name for a room export
func (f ExportFormat) FileName(room string, at time.Time) string {
	return fmt.Sprintf("attendance_%s_%s.%s", room, at.Format("20060102_1504"), f)
}

// ReportColumns are the export columns, in order
var ReportColumns = []string{
	"Name", "Role", "Join Date", "Join Time", "Leave Time",
	"Current Duration (min)", "Total Duration (min)", "Join Count", "Status",
}

const (
	sheetRoomInfo   = "Room Info"
	sheetAttendance = "Attendance"
)

// ReportRow is one export line
type ReportRow struct {
	Name            string     `json:"name"`
	Role            model.Role `json:"role"`
	JoinDate        string     `json:"joinDate"`
	JoinTime        string     `json:"joinTime"`
	LeaveTime       string     `json:"leaveTime"`
	CurrentDuration int        `json:"currentDuration"`
	TotalDuration   int        `json:"totalDuration"`
	JoinCount       int        `json:"joinCount"`
	Status          string     `json:"status"`
}

func (r ReportRow) cells() []string {
	return []string{
		r.Name, string(r.Role), r.JoinDate, r.JoinTime, r.LeaveTime,
		strconv.Itoa(r.CurrentDuration), strconv.Itoa(r.TotalDuration),
		strconv.Itoa(r.JoinCount), r.Status,
	}
}

// AttendanceReport is the JSON export document
type AttendanceReport struct {
	model.RoomInfo
	Rows []ReportRow `json:"rows"`
}

// ReportService renders attendance snapshots. It holds no state besides
// the time zone used for the date and time columns.
type ReportService struct {
	loc *time.Location
}

// NewReportService creates an exporter; nil loc means UTC
func NewReportService(loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{loc: loc}
}

// Info builds the room info block for a snapshot
func (s *ReportService) Info(room string, snap model.Snapshot, at time.Time) model.RoomInfo {
	return model.RoomInfo{
		Room:               room,
		ExportedAt:         at.In(s.loc),
		TotalParticipants:  len(snap.Records),
		ActiveParticipants: len(snap.ActiveParticipants),
	}
}

// Rows maps records to export rows, most recently active first
func (s *ReportService) Rows(snap model.Snapshot) []ReportRow {
	recs := make([]model.AttendanceRecord, len(snap.Records))
	copy(recs, snap.Records)
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].LastActive.Equal(recs[j].LastActive) {
			return recs[i].LastActive.After(recs[j].LastActive)
		}
		return recs[i].SessionID < recs[j].SessionID
	})

	rows := make([]ReportRow, 0, len(recs))
	for _, r := range recs {
		join := r.JoinTime.In(s.loc)
		row := ReportRow{
			Name:            r.Name,
			Role:            r.Role,
			JoinDate:        join.Format("2006-01-02"),
			JoinTime:        join.Format("15:04:05"),
			LeaveTime:       "-",
			CurrentDuration: r.Duration,
			TotalDuration:   r.TotalDuration,
			JoinCount:       r.JoinCount,
			Status:          "Left",
		}
		if row.Name == "" {
			row.Name = r.Identity
		}
		if r.LeaveTime != nil {
			row.LeaveTime = r.LeaveTime.In(s.loc).Format("15:04:05")
		}
		if r.Active {
			row.Status = "Active"
		}
		rows = append(rows, row)
	}
	return rows
}

// Export writes snap to w in the given format
func (s *ReportService) Export(w io.Writer, format ExportFormat, info model.RoomInfo, snap model.Snapshot) error {
	rows := s.Rows(snap)
	switch format {
	case FormatCSV:
		return s.writeCSV(w, info, rows)
	case FormatJSON:
		return s.writeJSON(w, info, rows)
	case FormatXLSX:
		return s.writeXLSX(w, info, rows)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func (s *ReportService) infoLines(info model.RoomInfo) [][]string {
	return [][]string{
		{"Room", info.Room},
		{"Exported At", info.ExportedAt.Format(time.RFC3339)},
		{"Total Participants", strconv.Itoa(info.TotalParticipants)},
		{"Active Participants", strconv.Itoa(info.ActiveParticipants)},
	}
}

// writeCSV emits the room info block, a blank line, then the table
func (s *ReportService) writeCSV(w io.Writer, info model.RoomInfo, rows []ReportRow) error {
	cw := csv.NewWriter(w)
	for _, line := range s.infoLines(info) {
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write(ReportColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *ReportService) writeJSON(w io.Writer, info model.RoomInfo, rows []ReportRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(AttendanceReport{RoomInfo: info, Rows: rows})
}

func (s *ReportService) writeXLSX(w io.Writer, info model.RoomInfo, rows []ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetRoomInfo); err != nil {
		return err
	}
	for i, line := range s.infoLines(info) {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetRoomInfo, cell, &[]interface{}{line[0], line[1]}); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(sheetAttendance); err != nil {
		return err
	}
	header := make([]interface{}, len(ReportColumns))
	for i, c := range ReportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetAttendance, "A1", &header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		vals := []interface{}{
			r.Name, string(r.Role), r.JoinDate, r.JoinTime, r.LeaveTime,
			r.CurrentDuration, r.TotalDuration, r.JoinCount, r.Status,
		}
		if err := f.SetSheetRow(sheetAttendance, cell, &vals); err != nil {
			return err
		}
	}
	return f.Write(w)
}
