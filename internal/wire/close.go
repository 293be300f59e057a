package wire

// Close drops every registration held by w and fails its in-flight requests.
func Close(w Wire) {
	switch w := w.(type) {
	case *StreamWire:
		w.close()
	case *DiscreteWire:
		w.close()
	case *SignalWire:
		w.close()
	}
}
