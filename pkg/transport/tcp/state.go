package tcp

// State 是由收发两端锁存标志推导出的连接阶段，仅用于观察，不驱动任何逻辑
type State int

const (
	StateListen State = iota
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateCloseWait
	StateLastAck
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateClosed
	StateReset
)

var stateNames = [...]string{
	StateListen:      "LISTEN",
	StateSynSent:     "SYN_SENT",
	StateSynRcvd:     "SYN_RCVD",
	StateEstablished: "ESTABLISHED",
	StateCloseWait:   "CLOSE_WAIT",
	StateLastAck:     "LAST_ACK",
	StateFinWait1:    "FIN_WAIT_1",
	StateFinWait2:    "FIN_WAIT_2",
	StateClosing:     "CLOSING",
	StateTimeWait:    "TIME_WAIT",
	StateClosed:      "CLOSED",
	StateReset:       "RESET",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

type senderPhase int

const (
	senderClosed senderPhase = iota
	senderSynSent
	senderSynAcked
	senderFinSent
	senderFinAcked
)

func (s *Sender) phase() senderPhase {
	switch {
	case s.nextSeqNo == 0:
		return senderClosed
	case s.nextSeqNo == s.bytesInFlight:
		return senderSynSent
	case !s.finSent:
		return senderSynAcked
	case s.bytesInFlight > 0:
		return senderFinSent
	default:
		return senderFinAcked
	}
}

type receiverPhase int

const (
	receiverListen receiverPhase = iota
	receiverSynRecv
	receiverFinRecv
)

func (r *Receiver) phase() receiverPhase {
	switch {
	case !r.synReceived:
		return receiverListen
	case !r.StreamOut().InputEnded():
		return receiverSynRecv
	default:
		return receiverFinRecv
	}
}

// State 返回当前连接阶段
func (c *Connection) State() State {
	if c.sender.StreamIn().Error() || c.receiver.StreamOut().Error() {
		return StateReset
	}
	if !c.active {
		return StateClosed
	}

	sp, rp := c.sender.phase(), c.receiver.phase()
	switch rp {
	case receiverListen:
		if sp == senderSynSent {
			return StateSynSent
		}
		return StateListen
	case receiverSynRecv:
		switch sp {
		case senderClosed, senderSynSent:
			return StateSynRcvd
		case senderSynAcked:
			return StateEstablished
		case senderFinSent:
			return StateFinWait1
		default:
			return StateFinWait2
		}
	default:
		switch sp {
		case senderClosed, senderSynSent:
			return StateSynRcvd
		case senderSynAcked:
			return StateCloseWait
		case senderFinSent:
			if c.linger {
				return StateClosing
			}
			return StateLastAck
		default:
			if c.linger {
				return StateTimeWait
			}
			return StateLastAck
		}
	}
}
