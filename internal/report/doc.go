// Package report renders fit results for inspection: a PNG of the search
// history drawn with gonum/plot, an HTML page of fitted and true atom
// positions drawn with go-echarts, and a JSON digest of the diagnostics.
// Writer bundles the three as a pipeline sink.
package report
