package null

// timeline simulates a GPU queue. A submission completes after delay polls
// of PollCompleted; with zero delay it completes immediately.
type timeline struct {
	submitted uint64
	completed uint64
	delay     int
	pending   []pendingSubmit
}

type pendingSubmit struct {
	token uint64
	polls int
}

func (t *timeline) submit() uint64 {
	t.submitted++
	if t.delay <= 0 {
		t.completed = t.submitted
	} else {
		t.pending = append(t.pending, pendingSubmit{token: t.submitted, polls: t.delay})
	}
	return t.submitted
}

func (t *timeline) PollCompleted() uint64 {
	if len(t.pending) > 0 {
		t.pending[0].polls--
		if t.pending[0].polls <= 0 {
			t.completed = t.pending[0].token
			t.pending = t.pending[1:]
		}
	}
	return t.completed
}

func (t *timeline) idle() {
	t.completed = t.submitted
	t.pending = t.pending[:0]
}
