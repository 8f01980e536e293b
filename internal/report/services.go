// Package report renders billing data into spreadsheet files.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"selfcare/internal/model"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var servicesHeader = []interface{}{
	"ID",
	"Описание",
	"Категория",
	"Количество",
	"Цена",
	"Стоимость",
	"Тариф",
	"Подключена",
	"Статус",
	"Комментарий",
}

// PeriodicServicesXLSX writes one row per service under a header row and
// adds a total of the billed cost.
func PeriodicServicesXLSX(services []model.PeriodicService) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(sheet, "A1", &servicesHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := 2
	var total float64
	for _, s := range services {
		comment := ""
		if s.Comment != nil {
			comment = *s.Comment
		}
		values := []interface{}{
			s.ID,
			s.Description,
			s.Category,
			s.Quantity,
			s.Price,
			s.TotalCost,
			s.TariffID,
			s.FirstOn,
			s.StatusText(),
			comment,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		if s.Active() {
			total += s.TotalCost
		}
		row++
	}

	totalRow := []interface{}{"", "Итого", "", "", "", total}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheet, cell, &totalRow); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func ServicesFileName(accountID string, now time.Time) string {
	return fmt.Sprintf("services_%s_%s.xlsx", accountID, now.Format("20060102_150405"))
}
