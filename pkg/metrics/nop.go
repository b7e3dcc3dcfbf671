package metrics

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordTick(string, float64)    {}
func (Nop) RecordTickDropped(string)      {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordSignal(string, bool)     {}
func (Nop) RecordOrder(string, string)    {}
func (Nop) RecordTrade(string, float64)   {}
func (Nop) SetPositionState(string)       {}
func (Nop) SetDailyPnL(float64)           {}
func (Nop) SetConnected(bool)             {}
