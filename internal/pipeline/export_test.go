package pipeline

import "time"

func (p *Processor) SetClock(now func() time.Time) { p.now = now }
