package vapix

import (
	"encoding/json"
	"fmt"
	"unicode"

	"github.com/blang/semver/v4"
)

// BasicDeviceInfoPath is the VAPIX identity endpoint.
const BasicDeviceInfoPath = "/axis-cgi/basicdeviceinfo.cgi"

// DeviceKind is the Axis product family derived from the model number.
type DeviceKind string

const (
	DeviceCamera        DeviceKind = "camera"
	DeviceSpeaker       DeviceKind = "speaker"
	DeviceIntercom      DeviceKind = "intercom"
	DeviceAccessControl DeviceKind = "access-control"
	DeviceUnknown       DeviceKind = "unknown"
)

// DeviceInfo is the property block returned by basicdeviceinfo.cgi.
type DeviceInfo struct {
	Brand        string `json:"Brand"`
	ProdType     string `json:"ProdType"`
	ProdNbr      string `json:"ProdNbr"`
	ProdFullName string `json:"ProdFullName"`
	SerialNumber string `json:"SerialNumber"`
	Version      string `json:"Version"`
}

type deviceInfoRequest struct {
	APIVersion string           `json:"apiVersion"`
	Method     string           `json:"method"`
	Params     deviceInfoParams `json:"params"`
}

type deviceInfoParams struct {
	PropertyList []string `json:"propertyList"`
}

// DeviceInfoRequestBody returns the getProperties call the scanner sends to
// every probed address.
func DeviceInfoRequestBody() []byte {
	body, err := json.Marshal(deviceInfoRequest{
		APIVersion: "1.0",
		Method:     "getProperties",
		Params: deviceInfoParams{
			PropertyList: []string{"Brand", "ProdType", "ProdNbr", "ProdFullName", "SerialNumber", "Version"},
		},
	})
	if err != nil {
		panic(err)
	}
	return body
}

// ParseDeviceInfo extracts the property list from a basicdeviceinfo reply.
func ParseDeviceInfo(body []byte) (DeviceInfo, error) {
	var reply struct {
		Data struct {
			PropertyList DeviceInfo `json:"propertyList"`
		} `json:"data"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to parse device info reply: %w", err)
	}
	if reply.Error != nil {
		return DeviceInfo{}, fmt.Errorf("device info error %d: %s", reply.Error.Code, reply.Error.Message)
	}
	return reply.Data.PropertyList, nil
}

// IsAxis reports whether the device identified itself as an Axis product.
func (d DeviceInfo) IsAxis() bool {
	return d.Brand == "AXIS"
}

// Kind maps the first character of the model number to a product family:
// M, P and Q series are cameras, C speakers, I intercoms, A door
// controllers.
func (d DeviceInfo) Kind() DeviceKind {
	if d.ProdNbr == "" {
		return DeviceUnknown
	}
	switch unicode.ToUpper(rune(d.ProdNbr[0])) {
	case 'M', 'P', 'Q':
		return DeviceCamera
	case 'C':
		return DeviceSpeaker
	case 'I':
		return DeviceIntercom
	case 'A':
		return DeviceAccessControl
	default:
		return DeviceUnknown
	}
}

// FirmwareSupported compares an AXIS OS version against the deployment
// floor: major, then minor, then patch, with missing components read as
// zero. A missing or unparseable version is unsupported.
func FirmwareSupported(version, minimum string) bool {
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return false
	}
	floor, err := semver.ParseTolerant(minimum)
	if err != nil {
		return false
	}
	return v.GTE(floor)
}
