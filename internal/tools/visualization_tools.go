package tools

import (
	"context"
	"fmt"

	"github.com/datasleuth/datasleuth/internal/models"
	"github.com/datasleuth/datasleuth/internal/sqlguard"
)

// chartRows runs gate-checked SQL and returns the rows plus the column order,
// shared by the chart tools.
func chartRows(ctx context.Context, db Database, sql string, limit int) ([]string, []map[string]any, error) {
	if err := checkSafe(sql); err != nil {
		return nil, nil, err
	}
	return db.Query(ctx, withLimit(sql, limit))
}

// chartAxes picks the x and y fields from the column order: the first column
// labels the axis, the first numeric value in the first row becomes the
// series. Explicit arguments override the guess.
func chartAxes(cols []string, rows []map[string]any, xField, yField string) (string, string) {
	if xField == "" && len(cols) > 0 {
		xField = cols[0]
	}
	if yField == "" {
		for _, col := range cols {
			if col == xField {
				continue
			}
			if len(rows) > 0 {
				if _, ok := asFloat(rows[0][col]); ok {
					yField = col
					break
				}
			}
		}
		if yField == "" && len(cols) > 1 {
			yField = cols[1]
		}
	}
	return xField, yField
}

// BarChartTool turns a SELECT into bar-chart data for categorical comparison.
type BarChartTool struct {
	db Database
}

func NewBarChartTool(db Database) *BarChartTool {
	return &BarChartTool{db: db}
}

func (t *BarChartTool) Name() string     { return "create_bar_chart" }
func (t *BarChartTool) Category() string { return CategoryVisualization }

func (t *BarChartTool) Description() string {
	return "Execute a SQL query and format the results as bar chart data. Use for comparisons and rankings, for example revenue per product or sales per region."
}

func (t *BarChartTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "SELECT query producing one label column and one numeric column",
			Required:    true,
		},
		{
			Name:        "title",
			Type:        models.ParamString,
			Description: "Chart title",
			Required:    false,
			Default:     "Bar Chart",
		},
		{
			Name:        "x_field",
			Type:        models.ParamString,
			Description: "Column to use for the category axis, defaults to the first column",
			Required:    false,
		},
		{
			Name:        "y_field",
			Type:        models.ParamString,
			Description: "Column to use for the value axis, defaults to the first numeric column",
			Required:    false,
		},
	}
}

func (t *BarChartTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	cols, rows, err := chartRows(ctx, t.db, sql, sqlguard.DefaultMaxRows)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("query returned no rows to chart")
	}

	xField, yField := chartAxes(cols, rows, stringArg(args, "x_field", ""), stringArg(args, "y_field", ""))
	data := map[string]any{
		"chart_type": "bar",
		"title":      stringArg(args, "title", "Bar Chart"),
		"x_field":    xField,
		"y_field":    yField,
		"data":       rows,
	}
	meta := map[string]any{
		"data_points": len(rows),
	}
	return data, meta, nil
}

// LineChartTool turns a SELECT into line-chart data for temporal trends.
type LineChartTool struct {
	db Database
}

func NewLineChartTool(db Database) *LineChartTool {
	return &LineChartTool{db: db}
}

func (t *LineChartTool) Name() string     { return "create_line_chart" }
func (t *LineChartTool) Category() string { return CategoryVisualization }

func (t *LineChartTool) Description() string {
	return "Execute a SQL query and format the results as line chart data. Use for trends over time, for example monthly revenue or daily order counts. The query should order rows by the time column."
}

func (t *LineChartTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "SELECT query producing a time column and one numeric column, ordered by time",
			Required:    true,
		},
		{
			Name:        "title",
			Type:        models.ParamString,
			Description: "Chart title",
			Required:    false,
			Default:     "Line Chart",
		},
		{
			Name:        "x_field",
			Type:        models.ParamString,
			Description: "Column to use for the time axis, defaults to the first column",
			Required:    false,
		},
		{
			Name:        "y_field",
			Type:        models.ParamString,
			Description: "Column to use for the value axis, defaults to the first numeric column",
			Required:    false,
		},
	}
}

func (t *LineChartTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	cols, rows, err := chartRows(ctx, t.db, sql, sqlguard.DefaultMaxRows)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("query returned no rows to chart")
	}

	xField, yField := chartAxes(cols, rows, stringArg(args, "x_field", ""), stringArg(args, "y_field", ""))
	data := map[string]any{
		"chart_type": "line",
		"title":      stringArg(args, "title", "Line Chart"),
		"x_field":    xField,
		"y_field":    yField,
		"data":       rows,
	}
	meta := map[string]any{
		"data_points": len(rows),
	}
	return data, meta, nil
}

// PieChartTool turns a SELECT into pie-chart data for proportional
// distributions.
type PieChartTool struct {
	db Database
}

func NewPieChartTool(db Database) *PieChartTool {
	return &PieChartTool{db: db}
}

func (t *PieChartTool) Name() string     { return "create_pie_chart" }
func (t *PieChartTool) Category() string { return CategoryVisualization }

func (t *PieChartTool) Description() string {
	return "Execute a SQL query and format the results as pie chart data. Use for proportional distributions, for example market share or sales by category."
}

func (t *PieChartTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "SELECT query producing one label column and one numeric column",
			Required:    true,
		},
		{
			Name:        "title",
			Type:        models.ParamString,
			Description: "Chart title",
			Required:    false,
			Default:     "Pie Chart",
		},
	}
}

func (t *PieChartTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	cols, rows, err := chartRows(ctx, t.db, sql, sqlguard.DefaultMaxRows)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("query returned no rows to chart")
	}

	labelField, valueField := chartAxes(cols, rows, "", "")
	data := map[string]any{
		"chart_type":  "pie",
		"title":       stringArg(args, "title", "Pie Chart"),
		"label_field": labelField,
		"value_field": valueField,
		"data":        rows,
	}
	meta := map[string]any{
		"data_points": len(rows),
	}
	return data, meta, nil
}

// ScatterPlotTool turns a SELECT into scatter-plot data for correlation
// analysis between two numeric columns.
type ScatterPlotTool struct {
	db Database
}

func NewScatterPlotTool(db Database) *ScatterPlotTool {
	return &ScatterPlotTool{db: db}
}

func (t *ScatterPlotTool) Name() string     { return "create_scatter_plot" }
func (t *ScatterPlotTool) Category() string { return CategoryVisualization }

func (t *ScatterPlotTool) Description() string {
	return "Execute a SQL query and format the results as scatter plot data. Use to show the relationship between two numeric variables, for example price vs quantity."
}

func (t *ScatterPlotTool) Parameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "sql",
			Type:        models.ParamString,
			Description: "SELECT query producing two numeric columns",
			Required:    true,
		},
		{
			Name:        "title",
			Type:        models.ParamString,
			Description: "Chart title",
			Required:    false,
			Default:     "Scatter Plot",
		},
		{
			Name:        "x_field",
			Type:        models.ParamString,
			Description: "Column to use for the x axis, defaults to the first column",
			Required:    false,
		},
		{
			Name:        "y_field",
			Type:        models.ParamString,
			Description: "Column to use for the y axis, defaults to the first numeric column after x",
			Required:    false,
		},
	}
}

func (t *ScatterPlotTool) Run(ctx context.Context, args map[string]any) (any, map[string]any, error) {
	sql := stringArg(args, "sql", "")
	cols, rows, err := chartRows(ctx, t.db, sql, sqlguard.DefaultMaxRows)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("query returned no rows to chart")
	}

	xField, yField := chartAxes(cols, rows, stringArg(args, "x_field", ""), stringArg(args, "y_field", ""))
	data := map[string]any{
		"chart_type": "scatter",
		"title":      stringArg(args, "title", "Scatter Plot"),
		"x_field":    xField,
		"y_field":    yField,
		"data":       rows,
	}
	meta := map[string]any{
		"data_points": len(rows),
	}
	return data, meta, nil
}
