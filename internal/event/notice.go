package event

// RealTeamTransfer is a transfer between real-world clubs from the news
// stream. It never references league participants.
type RealTeamTransfer struct {
	Header
	Player PlayerRef
}

func (t *RealTeamTransfer) Kind() Kind {
	return KindRealTeamTransfer
}

func (t *RealTeamTransfer) Validate() error {
	return nil
}

// Lineup announces a participant's lineup. No budget effect.
type Lineup struct {
	Header
}

func (l *Lineup) Kind() Kind {
	return KindLineup
}

func (l *Lineup) Validate() error {
	return nil
}

// AdminMessage is free text posted by the league administrator.
type AdminMessage struct {
	Header
	Text string
}

func (m *AdminMessage) Kind() Kind {
	return KindAdminMessage
}

func (m *AdminMessage) Validate() error {
	return nil
}

// LeagueReset wipes every participant's budget history.
type LeagueReset struct {
	Header
}

func (r *LeagueReset) Kind() Kind {
	return KindLeagueReset
}

func (r *LeagueReset) Validate() error {
	return nil
}

// Unknown wraps an entry whose type the classifier does not recognise.
type Unknown struct {
	Header
	Type string
}

func (u *Unknown) Kind() Kind {
	return KindUnknown
}

func (u *Unknown) Validate() error {
	return nil
}
