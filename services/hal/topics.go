package hal

import (
	"pwmlight-go/bus"
	"pwmlight-go/services/hal/internal/core"
	"pwmlight-go/types"
)

// Public capability topics: hal/cap/<domain>/<kind>/<name>/...

func CapInfo(domain string, kind types.Kind, name string) bus.Topic {
	return core.CapInfo(domain, string(kind), name)
}

func CapStatus(domain string, kind types.Kind, name string) bus.Topic {
	return core.CapStatus(domain, string(kind), name)
}

func CapValue(domain string, kind types.Kind, name string) bus.Topic {
	return core.CapValue(domain, string(kind), name)
}

func CapEvent(domain string, kind types.Kind, name, tag string) bus.Topic {
	return core.CapEventTagged(domain, string(kind), name, tag)
}

func CapCtrl(domain string, kind types.Kind, name, verb string) bus.Topic {
	return core.CapCtrl(domain, string(kind), name, verb)
}

// State is the retained hal/state topic.
func State() bus.Topic { return bus.T(core.TokHAL, core.TokState) }
