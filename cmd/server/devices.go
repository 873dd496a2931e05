// cmd/server/devices.go
package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usb-serial-service/internal/config"
	"usb-serial-service/internal/driver"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/registry"
)

// devicesCmd lists attached adapters with the driver that would claim them
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached USB serial adapters",
	Long: `List every attached USB serial adapter with its vendor and product id,
the chip model known for it and the driver that would claim it on connect.

Driver matching uses the same usb settings as "serve", so CDC adapters are
only matched by descriptor when usb.enable_descriptor_probe is set.

Devices on the built-in denylist (root hubs, modem management ports) are
marked and never chosen for auto-connect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		tableFormat, _ := cmd.Flags().GetBool("table")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger := zap.NewNop()
		host := newSystemHost(cfg, logger)
		selector := newSelector(cfg, logger, host)

		devices, err := registry.New(host, logger).List()
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		rows := buildRows(devices, selector, driver.NewChipDatabase())

		out := cmd.OutOrStdout()
		switch {
		case asJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		case len(rows) == 0:
			fmt.Fprintln(out, "No USB serial devices found")
		case tableFormat:
			renderTable(out, rows)
		default:
			renderSimple(out, rows)
		}
		return nil
	},
}

type deviceRow struct {
	Name      string `json:"name"`
	USBID     string `json:"usb_id"`
	Product   string `json:"product,omitempty"`
	Model     string `json:"model,omitempty"`
	Driver    string `json:"driver,omitempty"`
	Supported bool   `json:"supported"`
	Denied    bool   `json:"denied"`
}

type deviceProber interface {
	Probe(device model.DeviceDescriptor) (model.DriverName, bool)
	IsSupported(device model.DeviceDescriptor) bool
}

func buildRows(devices []model.DeviceDescriptor, selector deviceProber, db *driver.ChipDatabase) []deviceRow {
	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		row := deviceRow{
			Name:      d.SystemName,
			USBID:     d.USBID(),
			Product:   d.Product,
			Supported: selector.IsSupported(d),
			Denied:    registry.IsDenied(d),
		}
		if drv, ok := selector.Probe(d); ok {
			row.Driver = string(drv)
		}
		if info, ok := db.Lookup(d.VendorID, d.ProductID); ok {
			row.Model = info.Model
		}
		rows = append(rows, row)
	}
	return rows
}

// renderTable renders the adapters in a styled static table
func renderTable(w io.Writer, rows []deviceRow) {
	fmt.Fprintf(w, "Found %d USB serial device(s):\n\n", len(rows))

	nameWidth := 16
	idWidth := 11
	modelWidth := 22
	driverWidth := 8

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240")).
		PaddingBottom(1)

	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)

	deniedStyle := cellStyle.
		Foreground(lipgloss.Color("241"))

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
		nameWidth, "Name",
		idWidth, "USB ID",
		modelWidth, "Model",
		driverWidth, "Driver",
		"Denied")
	fmt.Fprintln(w, headerStyle.Render(header))

	for _, r := range rows {
		row := fmt.Sprintf("%-*s %-*s %-*s %-*s %t",
			nameWidth, r.Name,
			idWidth, r.USBID,
			modelWidth, orDash(r.Model),
			driverWidth, orDash(r.Driver),
			r.Denied)
		style := cellStyle
		if r.Denied {
			style = deniedStyle
		}
		fmt.Fprintln(w, style.Render(row))
	}
}

// renderSimple prints one adapter per line for scripts
func renderSimple(w io.Writer, rows []deviceRow) {
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s %s\n", r.Name, r.USBID, orDash(r.Driver))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().Bool("json", false, "Print devices as JSON")
	devicesCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}
