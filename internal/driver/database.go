// internal/driver/database.go
package driver

import "usb-serial-service/internal/model"

// ChipDatabase maps known USB-serial bridge ids to the driver that claims them
type ChipDatabase struct {
	vendors map[uint16]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[uint16]*ProductInfo
}

// ProductInfo contains product-specific information
type ProductInfo struct {
	Model  string
	Driver model.DriverName
	Ports  int
}

// NewChipDatabase creates and initializes the chip database
func NewChipDatabase() *ChipDatabase {
	db := &ChipDatabase{
		vendors: make(map[uint16]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *ChipDatabase) initializeDatabase() {
	// FTDI (0x0403)
	db.add(0x0403, "Future Technology Devices International", map[uint16]*ProductInfo{
		0x6001: {Model: "FT232R", Driver: model.DriverFTDI, Ports: 1},
		0x6010: {Model: "FT2232H", Driver: model.DriverFTDI, Ports: 2},
		0x6011: {Model: "FT4232H", Driver: model.DriverFTDI, Ports: 4},
		0x6014: {Model: "FT232H", Driver: model.DriverFTDI, Ports: 1},
		0x6015: {Model: "FT231X", Driver: model.DriverFTDI, Ports: 1},
	})

	// Silicon Labs (0x10C4)
	db.add(0x10c4, "Silicon Laboratories", map[uint16]*ProductInfo{
		0xea60: {Model: "CP2102", Driver: model.DriverCP210x, Ports: 1},
		0xea70: {Model: "CP2105", Driver: model.DriverCP210x, Ports: 2},
		0xea71: {Model: "CP2108", Driver: model.DriverCP210x, Ports: 4},
		0xea80: {Model: "CP2110", Driver: model.DriverCP210x, Ports: 1},
	})

	// Prolific (0x067B)
	db.add(0x067b, "Prolific Technology", map[uint16]*ProductInfo{
		0x2303: {Model: "PL2303", Driver: model.DriverPL2303, Ports: 1},
		0x23a3: {Model: "PL2303GC", Driver: model.DriverPL2303, Ports: 1},
		0x23b3: {Model: "PL2303GB", Driver: model.DriverPL2303, Ports: 1},
		0x23c3: {Model: "PL2303GT", Driver: model.DriverPL2303, Ports: 1},
		0x23d3: {Model: "PL2303GL", Driver: model.DriverPL2303, Ports: 1},
		0x23e3: {Model: "PL2303GE", Driver: model.DriverPL2303, Ports: 1},
		0x23f3: {Model: "PL2303GS", Driver: model.DriverPL2303, Ports: 1},
	})

	// QinHeng (0x1A86)
	db.add(0x1a86, "QinHeng Electronics", map[uint16]*ProductInfo{
		0x7523: {Model: "CH340", Driver: model.DriverCH34x, Ports: 1},
		0x5523: {Model: "CH341", Driver: model.DriverCH34x, Ports: 1},
		0x7522: {Model: "CH340K", Driver: model.DriverCH34x, Ports: 1},
	})

	// Boards that enumerate as CDC-ACM
	db.add(0x2341, "Arduino", map[uint16]*ProductInfo{
		0x0001: {Model: "Uno", Driver: model.DriverCDC, Ports: 1},
		0x0043: {Model: "Uno R3", Driver: model.DriverCDC, Ports: 1},
		0x0010: {Model: "Mega 2560", Driver: model.DriverCDC, Ports: 1},
		0x0042: {Model: "Mega 2560 R3", Driver: model.DriverCDC, Ports: 1},
		0x8036: {Model: "Leonardo", Driver: model.DriverCDC, Ports: 1},
		0x8037: {Model: "Micro", Driver: model.DriverCDC, Ports: 1},
	})
	db.add(0x16c0, "Van Ooijen Technische Informatica", map[uint16]*ProductInfo{
		0x0483: {Model: "Teensy", Driver: model.DriverCDC, Ports: 1},
	})
	db.add(0x03eb, "Atmel", map[uint16]*ProductInfo{
		0x2044: {Model: "LUFA CDC", Driver: model.DriverCDC, Ports: 1},
	})
	db.add(0x2e8a, "Raspberry Pi", map[uint16]*ProductInfo{
		0x0005: {Model: "Pico MicroPython", Driver: model.DriverCDC, Ports: 1},
		0x000a: {Model: "Pico SDK CDC", Driver: model.DriverCDC, Ports: 1},
	})
}

func (db *ChipDatabase) add(vendorID uint16, name string, products map[uint16]*ProductInfo) {
	db.vendors[vendorID] = &VendorInfo{Name: name, products: products}
}

// GetVendorInfo returns vendor information
func (db *ChipDatabase) GetVendorInfo(vendorID uint16) *VendorInfo {
	return db.vendors[vendorID]
}

// GetProductInfo returns product information
func (vi *VendorInfo) GetProductInfo(productID uint16) *ProductInfo {
	if vi == nil {
		return nil
	}
	return vi.products[productID]
}

// Lookup returns the known chip for a vendor/product pair
func (db *ChipDatabase) Lookup(vendorID, productID uint16) (*ProductInfo, bool) {
	info := db.GetVendorInfo(vendorID).GetProductInfo(productID)
	return info, info != nil
}

// Claims reports whether the named driver handles the vendor/product pair
func (db *ChipDatabase) Claims(name model.DriverName, vendorID, productID uint16) bool {
	info, ok := db.Lookup(vendorID, productID)
	return ok && info.Driver == name
}
