package redpitaya

import (
	"fmt"

	"github.com/hcitlab/afetest/util"
)

// I2CDevice is the kernel device node of the fixture's I2C bus
const I2CDevice = "/dev/i2c-0"

// SPIRoute is a board route on the shared SPI bus, set up through the
// select lines before a transfer
type SPIRoute int

// routes
const (
	RouteESDAC SPIRoute = iota
	RouteSSDAC
	RouteSSADC1
	RouteSSADC2
)

func (r SPIRoute) String() string {
	switch r {
	case RouteESDAC:
		return "ES_DAC"
	case RouteSSDAC:
		return "SS_DAC"
	case RouteSSADC1:
		return "SS_ADC1"
	case RouteSSADC2:
		return "SS_ADC2"
	}
	return fmt.Sprintf("SPIRoute(%d)", int(r))
}

// selectI2C addresses a device, skipping the commands if it is already addressed
func (c *Client) selectI2C(addr int) error {
	if c.i2cAddr == addr {
		return nil
	}
	err := c.write(fmt.Sprintf("I2C:DEV%d \"%s\"", addr, I2CDevice), "I2C:FMODE ON")
	if err != nil {
		c.i2cAddr = -1
		return err
	}
	c.i2cAddr = addr
	return nil
}

// I2CWriteRegister writes one SMBus register of the device at addr
func (c *Client) I2CWriteRegister(addr, reg, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.selectI2C(addr); err != nil {
		return err
	}
	return c.write(fmt.Sprintf("I2C:Smbus:Write%d %d", reg, value))
}

// I2CReadRegister reads one SMBus register of the device at addr
func (c *Client) I2CReadRegister(addr, reg int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.selectI2C(addr); err != nil {
		return 0, err
	}
	cmd := fmt.Sprintf("I2C:Smbus:Read%d?", reg)
	resp, err := c.query(cmd)
	if err != nil {
		return 0, err
	}
	vals, err := util.ParseIntList(resp)
	if err != nil || len(vals) != 1 {
		return 0, &ProtocolError{Cmd: cmd, Reply: resp, Err: fmt.Errorf("expected one integer: %v", err)}
	}
	return vals[0], nil
}

// I2CWriteByte writes one raw byte to the device at addr, for devices
// without registers
func (c *Client) I2CWriteByte(addr, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.selectI2C(addr); err != nil {
		return err
	}
	return c.write(fmt.Sprintf("I2C:IO:W:B1 %d", value))
}

// route drives the select lines for an SPI route
func (c *Client) route(r SPIRoute) error {
	var board, conv, adc int
	switch r {
	case RouteESDAC:
	case RouteSSDAC:
		board = 1
	case RouteSSADC1:
		board, conv = 1, 1
	case RouteSSADC2:
		board, conv, adc = 1, 1, 1
	default:
		return fmt.Errorf("unknown SPI route %d", int(r))
	}
	return c.write(
		fmt.Sprintf("DIG:PIN DIO%d_N,%d", int(BoardSelect), board),
		fmt.Sprintf("DIG:PIN DIO%d_N,%d", int(ConverterSelect), conv),
		fmt.Sprintf("DIG:PIN DIO%d_N,%d", int(ADCSelect), adc),
	)
}

// SPIWrite sends data as one SPI message on the current route
func (c *Client) SPIWrite(data []int) error {
	if len(data) == 0 {
		return fmt.Errorf("empty SPI message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(fmt.Sprintf("SPI:MSG0:TX%d %s", len(data), util.IntSliceToCSV(data)), "SPI:PASS")
}

// SPIWriteTo selects route, then sends data
func (c *Client) SPIWriteTo(r SPIRoute, data []int) error {
	c.mu.Lock()
	err := c.route(r)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.SPIWrite(data)
}

// SPIReadFrom selects route and clocks n bytes in
func (c *Client) SPIReadFrom(r SPIRoute, n int) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.route(r); err != nil {
		return nil, err
	}
	if err := c.write(fmt.Sprintf("SPI:MSG0:RX%d", n), "SPI:PASS"); err != nil {
		return nil, err
	}
	const cmd = "SPI:MSG0:RX?"
	resp, err := c.query(cmd)
	if err != nil {
		return nil, err
	}
	vals, err := util.ParseIntList(resp)
	if err != nil {
		return nil, &ProtocolError{Cmd: cmd, Reply: resp, Err: err}
	}
	if len(vals) < n {
		return nil, &ProtocolError{Cmd: cmd, Reply: resp, Err: fmt.Errorf("expected %d bytes, got %d", n, len(vals))}
	}
	return vals, nil
}
