package export

import (
	"fmt"
	"os"
	"path/filepath"

	"roomsync/internal/domain"
	"roomsync/internal/grid"
	"roomsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Schedule"

// Exporter writes a day's grid to an xlsx workbook: slot codes down the
// first column, one column per room.
type Exporter struct {
	path   string
	logger zerolog.Logger
}

func New(path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		path:   path,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// GridToExcel renders the snapshot and returns the written file path.
func (e *Exporter) GridToExcel(snap *grid.Snapshot, dir domain.RoomDirectory) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	rooms := dir.Rooms()
	e.writeTitle(f, snap, len(rooms))
	e.writeRoomHeaders(f, snap, rooms)
	e.writeSlotRows(f, snap, rooms)

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	for i := range rooms {
		col, _ := excelize.ColumnNumberToName(i + 2)
		_ = f.SetColWidth(sheetName, col, col, 24)
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("grid_%s.xlsx", snap.DateKey())
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) writeTitle(f *excelize.File, snap *grid.Snapshot, roomCount int) {
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Room schedule %s", snap.DateKey()))

	lastCol, _ := excelize.ColumnNumberToName(roomCount + 1)
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")

	style, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", style)
}

func (e *Exporter) writeRoomHeaders(f *excelize.File, snap *grid.Snapshot, rooms []models.Room) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, room := range rooms {
		cell, _ := excelize.CoordinatesToCellName(i+2, 2)
		header := room.Name
		switch snap.Status[room.ID] {
		case models.SourceDegraded:
			header += " (stale)"
		case models.SourceUnconfigured:
			header += " (no calendar)"
		}
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func (e *Exporter) writeSlotRows(f *excelize.File, snap *grid.Snapshot, rooms []models.Room) {
	occupiedStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
	})
	localStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
	})

	for slot := 0; slot < models.SlotCount; slot++ {
		row := slot + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, cell, models.SlotCode(slot))

		for i, room := range rooms {
			span, head := snap.Grid.SpanAt(room.ID, slot)
			if span == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+2, row)
			if head {
				value := span.Label
				if span.Attendees > 0 {
					value = fmt.Sprintf("%s (%d)", span.Label, span.Attendees)
				}
				_ = f.SetCellValue(sheetName, cell, value)
			}
			if span.Synced {
				_ = f.SetCellStyle(sheetName, cell, cell, occupiedStyle)
			} else {
				_ = f.SetCellStyle(sheetName, cell, cell, localStyle)
			}
		}
	}
}
