package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// OIDSysDescr is the generic system description object, used to confirm the
// management agent of a device is alive.
const OIDSysDescr = ".1.3.6.1.2.1.1.1.0"

// SNMP failure causes.
var (
	ErrSNMPStatus   = errors.New("snmp error status")
	ErrSNMPNoValues = errors.New("snmp response carried no values")
)

// Value is one variable binding returned by an SNMP GET.
type Value struct {
	Type gosnmp.Asn1BER
	Raw  any
}

// Int returns the value as an integer. Numeric octet strings are accepted
// because several printer firmwares report gauges as text.
func (v Value) Int() (int64, bool) {
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32,
		gosnmp.Uinteger32, gosnmp.TimeTicks:
		return gosnmp.ToBigInt(v.Raw).Int64(), true
	case gosnmp.OctetString:
		s, _ := v.String()
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// String returns the value as text.
func (v Value) String() (string, bool) {
	switch v.Type {
	case gosnmp.OctetString:
		b, ok := v.Raw.([]byte)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(strings.TrimRight(string(b), "\x00")), true
	case gosnmp.ObjectIdentifier:
		s, ok := v.Raw.(string)
		return s, ok
	}
	if n, ok := v.Int(); ok {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}

// SNMPResult is the outcome of one SNMP GET. Objects the agent reported as
// NoSuchObject or NoSuchInstance are absent from Values.
type SNMPResult struct {
	Values map[string]Value
	Err    error
}

// OK reports whether the GET succeeded.
func (r SNMPResult) OK() bool { return r.Err == nil }

// Get looks up the value returned for oid.
func (r SNMPResult) Get(oid string) (Value, bool) {
	v, ok := r.Values[normalizeOID(oid)]
	return v, ok
}

// SNMPGetter performs a single SNMP GET.
type SNMPGetter interface {
	Get(ctx context.Context, address string, oids []string) SNMPResult
}

// SNMPClient issues community-based SNMPv2c GET requests via gosnmp.
// Requests are never retried; the next poll is the retry.
type SNMPClient struct {
	community string
	port      uint16
	timeout   time.Duration
}

// NewSNMPClient creates an SNMPClient.
func NewSNMPClient(community string, port int, timeout time.Duration) *SNMPClient {
	if port <= 0 {
		port = 161
	}
	return &SNMPClient{community: community, port: uint16(port), timeout: timeout}
}

// Get requests oids from address in a single PDU.
func (c *SNMPClient) Get(ctx context.Context, address string, oids []string) SNMPResult {
	client := &gosnmp.GoSNMP{
		Target:    address,
		Port:      c.port,
		Community: c.community,
		Version:   gosnmp.Version2c,
		Timeout:   c.timeout,
		Retries:   0,
		MaxOids:   gosnmp.MaxOids,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return SNMPResult{Err: fmt.Errorf("connect %s: %w", address, err)}
	}
	defer client.Conn.Close()

	packet, err := client.Get(oids)
	if err != nil {
		return SNMPResult{Err: fmt.Errorf("get %s: %w", address, err)}
	}
	if packet.Error != gosnmp.NoError {
		return SNMPResult{Err: fmt.Errorf("%w: %s", ErrSNMPStatus, packet.Error)}
	}

	values := make(map[string]Value, len(packet.Variables))
	for _, pdu := range packet.Variables {
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			continue
		}
		values[normalizeOID(pdu.Name)] = Value{Type: pdu.Type, Raw: pdu.Value}
	}
	if len(values) == 0 {
		return SNMPResult{Err: ErrSNMPNoValues}
	}
	return SNMPResult{Values: values}
}

func normalizeOID(oid string) string {
	if strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}
