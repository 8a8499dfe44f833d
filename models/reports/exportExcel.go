package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteProfitabilityExcel streams the store's profitability snapshots as an
// xlsx workbook. The caller sets Content-Type and Content-Disposition.
func WriteProfitabilityExcel(ctx context.Context, w io.Writer, periodDays int) error {
	snapshots, err := GetProfitabilityReport(ctx, periodDays)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Profitability"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"ProductId", "UnitsSold", "GrossRevenue", "RefundedAmount", "NetRevenue",
		"GrossCost", "NetCost", "TotalProfit", "ProfitMargin", "AvgProfitPerUnit",
		"SaleVelocity", "DaysToStockout", "RemovalLossValue", "CurrentQuantity", "Trend",
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(sheet, cell, h)
	}

	for rowIdx, s := range snapshots {
		daysToStockout := ""
		if s.DaysToStockout != nil {
			daysToStockout = s.DaysToStockout.Round(1).String()
		}
		values := []interface{}{
			s.ProductId,
			s.UnitsSold,
			s.GrossRevenue.String(),
			s.RefundedAmount.String(),
			s.NetRevenue.String(),
			s.GrossCost.String(),
			s.NetCost.String(),
			s.TotalProfit.String(),
			s.ProfitMargin.String(),
			s.AvgProfitPerUnit.String(),
			s.SaleVelocity.String(),
			daysToStockout,
			s.RemovalLossValue.String(),
			s.CurrentQuantity,
			string(s.Trend),
		}
		for colIdx, v := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write profitability workbook: %w", err)
	}
	return nil
}
