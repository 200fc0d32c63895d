package core

import "pwmlight-go/bus"

const (
	TokHAL     = "hal"
	TokCap     = "cap"
	TokConfig  = "config"
	TokState   = "state"
	TokControl = "control"
	TokValue   = "value"
	TokEvent   = "event"
	TokInfo    = "info"
	TokStatus  = "status"
)

func topicConfigHAL() bus.Topic { return bus.T(TokConfig, TokHAL) }
func topicState() bus.Topic     { return bus.T(TokHAL, TokState) }

// hal/cap/<domain>/<kind>/<name>/...
func CapBase(domain, kind, name string) bus.Topic { return bus.T(TokHAL, TokCap, domain, kind, name) }

func CapInfo(domain, kind, name string) bus.Topic { return CapBase(domain, kind, name).Append(TokInfo) }
func CapStatus(domain, kind, name string) bus.Topic {
	return CapBase(domain, kind, name).Append(TokStatus)
}
func CapValue(domain, kind, name string) bus.Topic {
	return CapBase(domain, kind, name).Append(TokValue)
}
func CapEvent(domain, kind, name string) bus.Topic {
	return CapBase(domain, kind, name).Append(TokEvent)
}

func CapEventTagged(domain, kind, name, tag string) bus.Topic {
	return CapEvent(domain, kind, name).Append(tag)
}

// hal/cap/<domain>/<kind>/<name>/control/<verb>
func CapCtrl(domain, kind, name, verb string) bus.Topic {
	return CapBase(domain, kind, name).Append(TokControl, verb)
}

// hal/cap/+/+/+/control/+
func ctrlWildcard() bus.Topic {
	return bus.T(TokHAL, TokCap, "+", "+", "+", TokControl, "+")
}
