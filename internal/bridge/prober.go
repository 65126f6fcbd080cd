package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

// Prober implements scan.Prober over the connector's /proxy endpoint. Each
// probe is one basicdeviceinfo call against https://<ip>; the connector owns
// authentication and certificate pinning, so the prober only classifies what
// comes back.
type Prober struct {
	client      *Client
	minFirmware string
	logger      *log.Logger
}

// NewProber returns a prober classifying against the given firmware floor.
func NewProber(client *Client, minFirmware string, logger *log.Logger) *Prober {
	if logger == nil {
		logger = log.Default()
	}
	return &Prober{client: client, minFirmware: minFirmware, logger: logger}
}

// Probe asks the address to identify itself. A device that does not answer,
// answers with a non-200, or is not an Axis product is reported as nothing
// there; only connector-level failures surface as errors.
func (p *Prober) Probe(ctx context.Context, ip string, creds vapix.Credentials) (*scan.Camera, error) {
	reply, err := p.client.Proxy(ctx, ProxyRequest{
		URL:      "https://" + ip + vapix.BasicDeviceInfoPath,
		Method:   http.MethodPost,
		Username: creds.Username,
		Password: creds.Password,
		Body:     json.RawMessage(vapix.DeviceInfoRequestBody()),
	})
	if err != nil {
		return nil, err
	}
	if reply.Status != http.StatusOK {
		return nil, nil
	}

	info, err := vapix.ParseDeviceInfo(reply.Data)
	if err != nil {
		// 200 with a body that is not a device info reply: some other web
		// server lives at this address.
		return nil, nil
	}
	if !info.IsAxis() {
		p.logger.Printf("bridge: %s answered but reports brand %q, skipping", ip, info.Brand)
		return nil, nil
	}

	return &scan.Camera{
		IP:              ip,
		Port:            443,
		Protocol:        "https",
		ProductNumber:   info.ProdNbr,
		ProductFullName: info.ProdFullName,
		ProductType:     info.ProdType,
		SerialNumber:    info.SerialNumber,
		Firmware:        info.Version,
		DeviceKind:      string(info.Kind()),
		AuthMethod:      reply.AuthMethod,
		Unsupported:     !vapix.FirmwareSupported(info.Version, p.minFirmware),
	}, nil
}
