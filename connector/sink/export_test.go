package sink

type Recorder = recorder

func (r *recorder) Written() []string { return r.written() }
