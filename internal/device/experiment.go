package device

import "encoding/json"

// ExperimentRecord describes an experiment registered on a device, as listed
// by GET /api/exps. It is fetched on demand and never persisted.
type ExperimentRecord struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Branch       *string    `json:"branch"`
	RegisterTime string     `json:"register_time"`
	LastUpdate   string     `json:"last_update"`
	Experiment   Experiment `json:"experiment"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Experiment is the experiment metadata nested in an ExperimentRecord.
type Experiment struct {
	Nickname string  `json:"nickname"`
	Type     string  `json:"type"`
	Address  *string `json:"address"`
	DataPath *string `json:"data_path"`
	Execs    []Exec  `json:"execs"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Exec is a command the device runs when an experiment is started.
type Exec struct {
	Exec     string  `json:"exec"`
	Nickname *string `json:"nickname"`

	Extra map[string]json.RawMessage `json:"-"`
}

type (
	experimentRecordFields ExperimentRecord
	experimentFields       Experiment
	execFields             Exec
)

func (e *ExperimentRecord) UnmarshalJSON(data []byte) error {
	var fields experimentRecordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, []string{"id", "status", "branch", "register_time", "last_update", "experiment"})
	if err != nil {
		return err
	}
	*e = ExperimentRecord(fields)
	e.Extra = extra
	return nil
}

func (e ExperimentRecord) MarshalJSON() ([]byte, error) {
	return mergeExtra(experimentRecordFields(e), e.Extra)
}

func (e *Experiment) UnmarshalJSON(data []byte) error {
	var fields experimentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, []string{"nickname", "type", "address", "data_path", "execs"})
	if err != nil {
		return err
	}
	*e = Experiment(fields)
	e.Extra = extra
	return nil
}

func (e Experiment) MarshalJSON() ([]byte, error) {
	return mergeExtra(experimentFields(e), e.Extra)
}

func (e *Exec) UnmarshalJSON(data []byte) error {
	var fields execFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, []string{"exec", "nickname"})
	if err != nil {
		return err
	}
	*e = Exec(fields)
	e.Extra = extra
	return nil
}

func (e Exec) MarshalJSON() ([]byte, error) {
	return mergeExtra(execFields(e), e.Extra)
}

// Name returns the exec nickname, falling back to the command itself.
func (e Exec) Name() string {
	if e.Nickname != nil && *e.Nickname != "" {
		return *e.Nickname
	}
	return e.Exec
}
