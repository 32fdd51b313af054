// circuits_prodbench builds a randomized product layer, reports how it was
// compiled into dense groups, and benchmarks its forward and backward
// passes.
//
// Example:
//
//	circuits_prodbench -blocks=32 -block_nodes=256 -max_fanin=8 -groups=4 -batch=128 -steps=200
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/circuits/buffers"
	"github.com/gomlx/circuits/ids"
	"github.com/gomlx/circuits/nodespecs"
	"github.com/gomlx/circuits/prodlayer"
)

var (
	flagInputs     = flag.Int("inputs", 1024, "Number of input elements feeding the layer.")
	flagBlocks     = flag.Int("blocks", 16, "Number of product node blocks.")
	flagBlockNodes = flag.Int("block_nodes", 256, "Number of nodes per block.")
	flagMaxFanIn   = flag.Int("max_fanin", 8, "Each block draws its fan-in uniformly from [1, max_fanin].")
	flagBatch      = flag.Int("batch", 64, "Batch size of the evaluation buffers.")
	flagGroups     = flag.Int("groups", 4, "Maximum number of groups per direction (forward/backward).")
	flagMode       = flag.String("mode", "log", "Evaluation domain, one of: log, linear.")
	flagDType      = flag.String("dtype", "float32", "Buffer dtype, one of: float16, float32, float64.")
	flagSteps      = flag.Int("steps", 100, "Number of forward+backward steps to time.")
	flagSeed       = flag.Int64("seed", 42, "Seed for the random layer structure and values.")
)

var knownDTypes = map[string]dtypes.DType{
	"float16": dtypes.Float16,
	"float32": dtypes.Float32,
	"float64": dtypes.Float64,
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'circuits_prodbench -help'.", flag.Args())
		os.Exit(1)
	}
	for name, value := range map[string]int{
		"-inputs": *flagInputs, "-blocks": *flagBlocks, "-block_nodes": *flagBlockNodes,
		"-max_fanin": *flagMaxFanIn, "-batch": *flagBatch, "-groups": *flagGroups, "-steps": *flagSteps,
	} {
		if value < 1 {
			klog.Errorf("Flag %s=%d must be ≥ 1.", name, value)
			os.Exit(1)
		}
	}
	mode := must.M1(prodlayer.ModeString(*flagMode))
	dtype, found := knownDTypes[*flagDType]
	if !found {
		klog.Errorf("Unknown -dtype=%q, use one of: float16, float32, float64.", *flagDType)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*flagSeed))

	// Random layer structure: every block consumes the input block at each
	// of its slots, with uniformly random edges.
	nodeSpace := ids.NewSpace()
	input := nodespecs.NewInputBlock(nodeSpace, *flagInputs)
	nodeSpace.Freeze()
	blocks := make([]*nodespecs.ProductBlock, *flagBlocks)
	for b := range blocks {
		fanIn := 1 + rng.Intn(*flagMaxFanIn)
		children := make([]nodespecs.Block, fanIn)
		edgeIDs := make([][]int32, *flagBlockNodes)
		for i := range edgeIDs {
			row := make([]int32, fanIn)
			for j := range row {
				row[j] = int32(rng.Intn(*flagInputs))
			}
			edgeIDs[i] = row
		}
		for j := range children {
			children[j] = input
		}
		blocks[b] = nodespecs.NewProductBlock(children, edgeIDs)
	}

	elementSpace := ids.NewSpace()
	start := time.Now()
	layer := prodlayer.New(elementSpace, blocks,
		prodlayer.WithMode(mode),
		prodlayer.WithMaxGroups(*flagGroups))
	elementSpace.Freeze()
	compileTime := time.Since(start)

	fmt.Println(titleStyle.Render(fmt.Sprintf("Product layer: %s nodes over %s inputs (mode %s, compiled in %s)",
		humanize.Comma(int64(layer.NumNodes())), humanize.Comma(int64(*flagInputs)), layer.Mode(), compileTime)))
	printGroups("Forward groups (by fan-in)", layer.ForwardGroupStats())
	printGroups("Backward groups (by fan-out)", layer.BackwardGroupStats())

	benchmark(layer, dtype, mode)
}

func printGroups(title string, stats []prodlayer.GroupStats) {
	table := newPlainTable()
	table.Row("group", "rows", "width", "true fan", "padding")
	for i, s := range stats {
		padding := float64(s.Padding()) / float64(s.Size*s.Width) * 100
		table.Row(
			fmt.Sprintf("%d", i),
			humanize.Comma(int64(s.Size)),
			fmt.Sprintf("%d", s.Width),
			humanize.Comma(int64(s.TrueFan)),
			fmt.Sprintf("%.1f%%", padding),
		)
	}
	fmt.Println(titleStyle.Render(title))
	fmt.Println(table.Render())
}

func benchmark(layer *prodlayer.Layer, dtype dtypes.DType, mode prodlayer.Mode) {
	rng := rand.New(rand.NewSource(*flagSeed + 1))
	numNodeIDs := layer.NumNodes() + *flagInputs + 1
	numElementIDs := int(layer.OutputRange().Last()) + 1

	nodeValues := buffers.New(dtype, numNodeIDs, *flagBatch)
	elementValues := buffers.New(dtype, numElementIDs, *flagBatch)
	nodeFlows := buffers.New(dtype, numNodeIDs, *flagBatch)
	elementFlows := buffers.New(dtype, numElementIDs, *flagBatch)
	for row := 1; row < numNodeIDs; row++ {
		for col := 0; col < *flagBatch; col++ {
			// Positive values keep linear-domain products meaningful.
			nodeValues.Set(row, col, 0.5+rng.Float64())
		}
	}
	for row := 1; row < numElementIDs; row++ {
		for col := 0; col < *flagBatch; col++ {
			elementFlows.Set(row, col, 0.5+rng.Float64())
		}
	}
	nodeValues.FillRow(0, mode.Neutral())
	elementFlows.FillRow(0, mode.Neutral())

	bar := progressbar.NewOptions(*flagSteps,
		progressbar.OptionSetDescription("evaluating"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII))
	start := time.Now()
	for step := 0; step < *flagSteps; step++ {
		layer.Forward(nodeValues, elementValues)
		nodeFlows.Zero()
		layer.Backward(nodeFlows, elementFlows)
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)
	_ = bar.Finish()
	fmt.Println()

	rowsPerStep := int64(layer.NumNodes()) * int64(*flagBatch)
	totalRows := rowsPerStep * int64(*flagSteps)
	fmt.Printf("%d steps in %s: %s node×batch rows/second (forward+backward)\n",
		*flagSteps, elapsed, humanize.Comma(int64(float64(totalRows)/elapsed.Seconds())))
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == 1:
				s = headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}
