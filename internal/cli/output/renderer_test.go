package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode OutputMode, isTTY bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, isTTY, mode), out, errOut
}

func TestMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
	}{
		{"", ModeAuto},
		{"auto", ModeAuto},
		{"TEXT", ModeText},
		{"table", ModeText},
		{"md", ModeMarkdown},
		{"markdown", ModeMarkdown},
		{"json", ModeJSON},
		{"yaml", ModeAuto},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mode(tt.in))
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  OutputMode
		isTTY bool
		want  OutputMode
	}{
		{"auto on tty", ModeAuto, true, ModeText},
		{"auto in pipe", ModeAuto, false, ModeMarkdown},
		{"explicit text in pipe", ModeText, false, ModeText},
		{"json on tty", ModeJSON, true, ModeJSON},
		{"empty is auto", "", false, ModeMarkdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRenderer(tt.mode, tt.isTTY)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestTable_Markdown(t *testing.T) {
	r, out, _ := newTestRenderer(ModeMarkdown, false)
	r.Table([]string{"table", "rows"}, [][]any{
		{"fact_sales", int64(9994)},
		{"dim_ship_mode", 4},
	})

	s := out.String()
	assert.Contains(t, strings.ToLower(s), "| table | rows |")
	assert.Contains(t, s, "| fact_sales | 9,994 |")
	assert.Contains(t, s, "| dim_ship_mode | 4 |")
	assert.NotContains(t, s, "\x1b[")
}

func TestTable_Text(t *testing.T) {
	r, out, _ := newTestRenderer(ModeText, false)
	r.Table([]string{"category", "sales"}, [][]any{{"Furniture", 741999.7953}})

	s := out.String()
	assert.Contains(t, s, "CATEGORY")
	assert.Contains(t, s, "741,999.80")
	assert.Contains(t, s, "┌")
}

func TestTable_Empty(t *testing.T) {
	r, out, _ := newTestRenderer(ModeText, false)
	r.Table([]string{"a"}, nil)
	assert.Equal(t, "(0 rows)\n", out.String())
}

func TestValue(t *testing.T) {
	r, _, _ := newTestRenderer(ModeText, false)
	assert.Equal(t, "NULL", r.Value(nil))
	assert.Equal(t, "1,234,567", r.Value(int64(1234567)))
	assert.Equal(t, "12.50", r.Value(12.5))
	assert.Equal(t, "abc", r.Value([]byte("abc")))
	assert.Equal(t, "true", r.Value(true))
}

func TestHeaderAndKeyValue(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown, false)
		r.Header(2, "Run")
		r.KeyValue("rows", int64(9994))
		assert.Equal(t, "## Run\n\n- **rows**: 9,994\n", out.String())
	})

	t.Run("text without tty has no escape codes", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, false)
		r.Header(1, "Run")
		r.KeyValue("status", "completed")
		r.Success("done")
		r.StatusLine("clean", "success", "9994 rows")
		assert.NotContains(t, out.String(), "\x1b[")
		assert.Contains(t, out.String(), "status: completed")
		assert.Contains(t, out.String(), "✓ clean")
	})
}

func TestWarningAndError(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText, false)
	r.Warning("3 conflicts")
	r.Error("boom")
	assert.Empty(t, out.String())
	assert.Equal(t, "warning: 3 conflicts\nerror: boom\n", errOut.String())
}

func TestJSON(t *testing.T) {
	r, out, _ := newTestRenderer(ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"fact_sales": 5}))

	var got map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 5, got["fact_sales"])
}

func TestEmitEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EmitEvent(&buf, RunEvent{Event: EventStageComplete, RunID: "r1", Stage: "clean", Status: "success", RowsOut: 9994}))
	require.NoError(t, EmitEvent(&buf, RunEvent{Event: EventRunComplete, Status: "completed"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"stage_complete","run_id":"r1","stage":"clean","status":"success","rows_out":9994}`, lines[0])
	assert.JSONEq(t, `{"event":"run_complete","status":"completed"}`, lines[1])
}

func TestStatusIcon(t *testing.T) {
	s := NewStyles(&bytes.Buffer{}, false)
	assert.Equal(t, "✓", s.StatusIcon("completed"))
	assert.Equal(t, "✗", s.StatusIcon("failed"))
	assert.Equal(t, "-", s.StatusIcon("skipped"))
	assert.Equal(t, "○", s.StatusIcon("pending"))
}
