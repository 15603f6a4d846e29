package coaptcp

// sendInitialCSM announces the local limits to the peer. Sent
// unconditionally on connection establishment, before any bytes are
// read; the peer is not required to respond.
func (c *Conn) sendInitialCSM() error {
	csm := NewMessage(CodeCSM, nil)
	csm.Options = Options{
		UintOption(OptionMaxMessageSize, uint64(c.opts.maxMessageSize)),
		UintOption(OptionBlockWiseTransfer, 0),
	}
	return c.sendDirect(csm)
}

// processSignaling handles one decoded frame from the signaling code
// class. These frames manage the connection itself and are never
// forwarded to the application layer. A non-nil return means the
// connection was torn down and frame processing must stop.
func (c *Conn) processSignaling(msg *Message) error {
	switch msg.Code {
	case CodeCSM:
		if c.remoteSettings == nil {
			c.remoteSettings = &RemoteSettings{}
		}
		for _, opt := range msg.Options {
			switch opt.Number {
			case OptionMaxMessageSize:
				c.remoteSettings.MaxMessageSize = opt.Uint()
			case OptionBlockWiseTransfer:
				c.remoteSettings.BlockWiseTransfer = true
			default:
				if opt.Critical() {
					c.abortBadOption(opt.Number)
					return ErrProtocolViolation
				}
				// elective CSM options are ignored
			}
		}
		return nil

	case CodePing, CodePong, CodeRelease, CodeAbort:
		// None of these carry critical options while custody is not
		// implemented.
		for _, opt := range msg.Options {
			if opt.Critical() {
				c.abortBadOption(opt.Number)
				return ErrProtocolViolation
			}
		}

		switch msg.Code {
		case CodePing:
			return c.sendDirect(NewMessage(CodePong, msg.Token))
		case CodePong:
			return nil
		case CodeRelease:
			// The peer asked for a graceful close. We do not confirm
			// with our own Release; we simply stop using the stream.
			c.logger.Info("peer released connection", "addr", c.Addr())
			c.Close()
			return ErrConnectionClosed
		default: // CodeAbort
			c.logger.Warn("peer aborted connection",
				"addr", c.Addr(), "diagnostic", string(msg.Payload))
			c.Close()
			return ErrConnectionClosed
		}

	default:
		c.Abort("Unknown signalling code")
		return ErrProtocolViolation
	}
}

// Abort sends an abort frame carrying the diagnostic as its payload
// (empty diagnostic sends none) and closes the stream unconditionally.
// This is terminal: no further frames are processed on the connection.
func (c *Conn) Abort(diagnostic string) {
	c.sendAbort(diagnostic, 0)
}

// abortBadOption aborts naming the critical option number that caused
// the rejection.
func (c *Conn) abortBadOption(number uint16) {
	c.sendAbort("", number)
}

func (c *Conn) sendAbort(diagnostic string, badOption uint16) {
	abort := NewMessage(CodeAbort, nil)
	if diagnostic != "" {
		abort.Payload = []byte(diagnostic)
	}
	if badOption != 0 {
		abort.Options = Options{UintOption(OptionBadCSMOption, uint64(badOption))}
	}
	if err := c.sendDirect(abort); err != nil {
		c.logger.Debug("abort frame not sent", "addr", c.Addr(), "error", err)
	}
	c.Close()
}
