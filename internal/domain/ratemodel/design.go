package ratemodel

import (
	"fmt"
	"math"

	"github.com/okian/stopodds/internal/domain/model"
)

// column describes one design column. Column 0 is always the intercept.
type column struct {
	term    string
	trait   model.Trait
	value   string
	unset   bool
	nPeople int
}

// design is a dense indicator matrix with a log-exposure offset.
type design struct {
	cols   []column
	x      [][]float64 // rows × len(cols)
	y      []float64
	offset []float64
}

const interceptTerm = "(intercept)"

// termName renders the public term label for a level.
func termName(t model.Trait, value string) string {
	return model.GroupKey{Trait: t, Value: value}.String()
}

func unsetTermName(t model.Trait) string {
	return fmt.Sprintf("%s:unset", t)
}

// buildDesign creates one indicator per non-reference level present in rows
// and one unset indicator per trait that some rows leave out.
func buildDesign(rows []model.Submission, refs map[model.Trait]string) *design {
	cols := []column{{term: interceptTerm, nPeople: len(rows)}}
	index := make(map[string]int)

	for _, spec := range model.Schema() {
		counts := make([]int, len(spec.Values))
		unset := 0
		for _, r := range rows {
			v, ok := r.Traits[spec.Name]
			if !ok {
				unset++
				continue
			}
			if j := spec.Index(v); j >= 0 {
				counts[j]++
			}
		}
		for j, v := range spec.Values {
			if counts[j] == 0 || v == refs[spec.Name] {
				continue
			}
			index[termName(spec.Name, v)] = len(cols)
			cols = append(cols, column{term: termName(spec.Name, v), trait: spec.Name, value: v, nPeople: counts[j]})
		}
		if unset > 0 && unset < len(rows) {
			index[unsetTermName(spec.Name)] = len(cols)
			cols = append(cols, column{term: unsetTermName(spec.Name), trait: spec.Name, unset: true, nPeople: unset})
		}
	}

	d := &design{
		cols:   cols,
		x:      make([][]float64, len(rows)),
		y:      make([]float64, len(rows)),
		offset: make([]float64, len(rows)),
	}
	for i, r := range rows {
		row := make([]float64, len(cols))
		row[0] = 1
		for _, spec := range model.Schema() {
			v, ok := r.Traits[spec.Name]
			key := unsetTermName(spec.Name)
			if ok {
				key = termName(spec.Name, v)
			}
			if j, found := index[key]; found {
				row[j] = 1
			}
		}
		d.x[i] = row
		d.y[i] = float64(r.Stops)
		d.offset[i] = math.Log(float64(r.Trips))
	}
	return d
}

// constantColumns returns the non-intercept columns with no variation.
func (d *design) constantColumns() []int {
	var out []int
	for j := 1; j < len(d.cols); j++ {
		first := d.x[0][j]
		constant := true
		for i := 1; i < len(d.x); i++ {
			if d.x[i][j] != first {
				constant = false
				break
			}
		}
		if constant {
			out = append(out, j)
		}
	}
	return out
}
