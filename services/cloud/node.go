package cloud

import (
	"sync"

	"pwmlight-go/errcode"
)

// NodeInfo describes the physical unit.
type NodeInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	FWVersion string `json:"fw_version,omitempty"`
	Model     string `json:"model,omitempty"`
}

type ParamConfig struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	DataType   DataType `json:"data_type"`
	Properties []string `json:"properties"`
	UIType     string   `json:"ui_type,omitempty"`
	Bounds     *Bounds  `json:"bounds,omitempty"`
}

type DeviceConfig struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Primary string        `json:"primary,omitempty"`
	Params  []ParamConfig `json:"params"`
}

// NodeConfig is the retained description of a node and its devices.
type NodeConfig struct {
	NodeID        string         `json:"node_id"`
	ConfigVersion string         `json:"config_version"`
	Info          NodeInfo       `json:"info"`
	Devices       []DeviceConfig `json:"devices"`
}

const configVersion = "2020-03-20"

// Node is the top-level handle of this unit in the cloud model.
type Node struct {
	ID   string
	Info NodeInfo

	mu      sync.Mutex
	devices []*Device
	report  reporter
	changed func() // devices added after the node is running
}

// NewNode fails with errcode.InvalidParams when the id, name or type is empty.
func NewNode(id, name, typ string) (*Node, error) {
	if id == "" || name == "" || typ == "" {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "cloud.NewNode", Msg: "id, name and type are required"}
	}
	return &Node{ID: id, Info: NodeInfo{Name: name, Type: typ}}, nil
}

// AddDevice attaches d; device names are unique within a node.
func (n *Node) AddDevice(d *Device) error {
	if d == nil || d.Name == "" {
		return errcode.InvalidParams
	}
	n.mu.Lock()
	for _, e := range n.devices {
		if e.Name == d.Name {
			n.mu.Unlock()
			return errcode.Duplicate
		}
	}
	n.devices = append(n.devices, d)
	rep, changed := n.report, n.changed
	n.mu.Unlock()

	if rep != nil {
		d.attach(rep)
	}
	if changed != nil {
		changed()
	}
	return nil
}

// Device returns the named device or nil.
func (n *Node) Device(name string) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, d := range n.devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (n *Node) Devices() []*Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Device(nil), n.devices...)
}

// Config snapshots the node description.
func (n *Node) Config() NodeConfig {
	nc := NodeConfig{NodeID: n.ID, ConfigVersion: configVersion, Info: n.Info}
	for _, d := range n.Devices() {
		nc.Devices = append(nc.Devices, d.config())
	}
	return nc
}

// Params snapshots every value as {device: {param: value}}.
func (n *Node) Params() map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, d := range n.Devices() {
		out[d.Name] = d.values()
	}
	return out
}

// bind routes reports and device additions to a running service.
func (n *Node) bind(r reporter, changed func()) {
	n.mu.Lock()
	n.report, n.changed = r, changed
	devs := append([]*Device(nil), n.devices...)
	n.mu.Unlock()
	for _, d := range devs {
		d.attach(r)
	}
}
