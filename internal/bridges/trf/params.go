package trf

import (
	"fmt"
	"strconv"
	"strings"
)

// ParameterDescriptor describes one readable or settable hub quantity.
// ID matches the address field on the wire.
type ParameterDescriptor struct {
	ID         uint8  `json:"param_id"`
	Name       string `json:"param_name"`
	IsAdvanced bool   `json:"is_advance"`
	IsSettable bool   `json:"is_settable"`
	Default    string `json:"default_value"`
	Detail     string `json:"detail"`
}

const (
	inputChannelPrefix = "PARAMS_INPUT_NUM_"
	highFilterDetail   = "NUMBER OF THE SAMPLE WHICH HAVE TO BE TRIGGERED TO SET HIGH"
	lowFilterDetail    = "NUMBER OF THE SAMPLE WHICH HAVE TO BE TRIGGERED TO SET LOW"
)

// paramTable is the firmware parameter map. Order follows ID.
var paramTable = []ParameterDescriptor{
	{ID: 0, Name: "PARAMS_TRF_ONLINE_STATE", Default: "1"},
	{ID: 1, Name: "PARAMS_TRF_UUID", Default: "200"},
	{ID: 2, Name: "PARAMS_RELAY_1_OUTPUT", Default: "0"},
	{ID: 3, Name: "PARAMS_RELAY_2_OUTPUT", Default: "0"},
	{ID: 4, Name: "PARAMS_RELAY_3_OUTPUT", Default: "0"},
	{ID: 5, Name: "PARAMS_MOSFET_1_OUTPUT", Default: "0"},
	{ID: 6, Name: "PARAMS_MOSFET_2_OUTPUT", Default: "0"},
	{ID: 7, Name: "PARAMS_BLINK_OUTPUT", Default: "0"},
	{ID: 8, Name: "PARAMS_INPUT_NUM_1", Default: "0"},
	{ID: 9, Name: "PARAMS_INPUT_NUM_2", Default: "0"},
	{ID: 10, Name: "PARAMS_INPUT_NUM_3", Default: "0"},
	{ID: 11, Name: "PARAMS_INPUT_NUM_4", Default: "0"},
	{ID: 12, Name: "PARAMS_INPUT_NUM_1_HIGH_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "5", Detail: highFilterDetail},
	{ID: 13, Name: "PARAMS_INPUT_NUM_2_HIGH_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "5", Detail: highFilterDetail},
	{ID: 14, Name: "PARAMS_INPUT_NUM_3_HIGH_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "5", Detail: highFilterDetail},
	{ID: 15, Name: "PARAMS_INPUT_NUM_4_HIGH_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "5", Detail: highFilterDetail},
	{ID: 16, Name: "PARAMS_INPUT_NUM_1_LOW_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "1", Detail: lowFilterDetail},
	{ID: 17, Name: "PARAMS_INPUT_NUM_2_LOW_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "1", Detail: lowFilterDetail},
	{ID: 18, Name: "PARAMS_INPUT_NUM_3_LOW_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "1", Detail: lowFilterDetail},
	{ID: 19, Name: "PARAMS_INPUT_NUM_4_LOW_FILTER_LEN", IsAdvanced: true, IsSettable: true, Default: "1", Detail: lowFilterDetail},
	{ID: 20, Name: "PARAMS_DUMMY_PARAM_1", Default: "0"},
	{ID: 21, Name: "PARAMS_DUMMY_PARAM_2", Default: "0"},
	{ID: 22, Name: "PARAMS_DUMMY_PARAM_3", Default: "0"},
	{ID: 23, Name: "PARAMS_DUMMY_PARAM_4", Default: "0"},
	{ID: 24, Name: "PARAMS_DUMMY_PARAM_5", Default: "0"},
}

// Params returns a copy of the parameter catalog.
func Params() []ParameterDescriptor {
	out := make([]ParameterDescriptor, len(paramTable))
	copy(out, paramTable)
	return out
}

// LookupParam returns the descriptor for id.
func LookupParam(id uint8) (ParameterDescriptor, bool) {
	if int(id) < len(paramTable) && paramTable[id].ID == id {
		return paramTable[id], true
	}
	for _, p := range paramTable {
		if p.ID == id {
			return p, true
		}
	}
	return ParameterDescriptor{}, false
}

// ParamName returns the symbolic name for id, or UNKNOWN(id).
func ParamName(id uint8) string {
	if p, ok := LookupParam(id); ok {
		return p.Name
	}
	return fmt.Sprintf("UNKNOWN(%d)", id)
}

// InputChannel reports the input number encoded in a PARAMS_INPUT_NUM_<n>
// name. Filter-length parameters are not channels.
func (p ParameterDescriptor) InputChannel() (int, bool) {
	rest, ok := strings.CutPrefix(p.Name, inputChannelPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
