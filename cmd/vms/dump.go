// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/vms-broker/vms/cmd/vms/cli"
	"github.com/vms-broker/vms/lib/vms"
)

func (a *app) dumpCommand() *cli.Command {
	var raw bool
	return &cli.Command{
		Name:    "dump",
		Summary: "Show publish and delivery-failure counters",
		Description: "Show publish and delivery-failure counters.\n\n" +
			"On a terminal the counters are drawn as tables; otherwise, or with\n" +
			"--raw, the broker's plain-text report is printed unchanged.",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flagSet("dump")
			flagSet.BoolVar(&raw, "raw", false, "print the plain-text report")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var dump vms.DumpResponse
			if err := a.client().Call(ctx, vms.ActionDump, nil, &dump); err != nil {
				return err
			}
			if raw || !a.terminal {
				_, err := io.WriteString(a.stdout, dump.Report)
				return err
			}
			_, err := io.WriteString(a.stdout, renderDump(dump))
			return err
		},
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

func renderDump(dump vms.DumpResponse) string {
	var sections []string
	sections = append(sections, titleStyle.Render(
		fmt.Sprintf("Connected publishers: %d", dump.ConnectedPublishers)))

	if len(dump.Packets) == 0 {
		sections = append(sections, mutedStyle.Render("No publications yet."))
	} else {
		rows := make([][]string, 0, len(dump.Packets))
		for _, packet := range dump.Packets {
			rows = append(rows, []string{
				packet.Layer.String(),
				strconv.FormatInt(packet.Count, 10),
				strconv.FormatInt(packet.Bytes, 10),
			})
		}
		sections = append(sections, renderTable([]string{"LAYER", "PACKETS", "BYTES"}, rows, lipgloss.NewStyle()))
	}

	if len(dump.Failures) > 0 {
		rows := make([][]string, 0, len(dump.Failures))
		for _, failure := range dump.Failures {
			subscriber := failure.Subscriber
			if subscriber == "" {
				subscriber = "(no subscribers)"
			}
			rows = append(rows, []string{
				failure.Layer.String(),
				failure.Publisher,
				subscriber,
				strconv.FormatInt(failure.Count, 10),
				strconv.FormatInt(failure.Bytes, 10),
			})
		}
		sections = append(sections, renderTable(
			[]string{"LAYER", "PUBLISHER", "SUBSCRIBER", "FAILURES", "BYTES"}, rows, failStyle))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// renderTable left-aligns columns to their widest cell.
func renderTable(headers []string, rows [][]string, cellStyle lipgloss.Style) string {
	widths := make([]int, len(headers))
	for column, header := range headers {
		widths[column] = lipgloss.Width(header)
	}
	for _, row := range rows {
		for column, cell := range row {
			widths[column] = max(widths[column], lipgloss.Width(cell))
		}
	}

	format := func(cells []string, style lipgloss.Style) string {
		padded := make([]string, len(cells))
		for column, cell := range cells {
			padded[column] = style.Render(cell + strings.Repeat(" ", widths[column]-lipgloss.Width(cell)))
		}
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	lines := []string{"", format(headers, headerStyle)}
	for _, row := range rows {
		lines = append(lines, format(row, cellStyle))
	}
	return strings.Join(lines, "\n")
}
