package external

import (
	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/model"
)

// OpeningState returns the standard Spring 1901 position: 22 units and the
// 22 home supply centers owned, neutrals unowned.
func OpeningState() *engine.State {
	units := []engine.Unit{
		{Type: "fleet", Power: model.England, Province: "LON"},
		{Type: "fleet", Power: model.England, Province: "EDI"},
		{Type: "army", Power: model.England, Province: "LVP"},
		{Type: "army", Power: model.France, Province: "PAR"},
		{Type: "army", Power: model.France, Province: "MAR"},
		{Type: "fleet", Power: model.France, Province: "BRE"},
		{Type: "army", Power: model.Germany, Province: "BER"},
		{Type: "army", Power: model.Germany, Province: "MUN"},
		{Type: "fleet", Power: model.Germany, Province: "KIE"},
		{Type: "army", Power: model.Italy, Province: "ROM"},
		{Type: "army", Power: model.Italy, Province: "VEN"},
		{Type: "fleet", Power: model.Italy, Province: "NAP"},
		{Type: "army", Power: model.Austria, Province: "VIE"},
		{Type: "army", Power: model.Austria, Province: "BUD"},
		{Type: "fleet", Power: model.Austria, Province: "TRI"},
		{Type: "army", Power: model.Russia, Province: "MOS"},
		{Type: "army", Power: model.Russia, Province: "WAR"},
		{Type: "fleet", Power: model.Russia, Province: "SEV"},
		{Type: "fleet", Power: model.Russia, Province: "STP", Coast: "sc"},
		{Type: "army", Power: model.Turkey, Province: "CON"},
		{Type: "army", Power: model.Turkey, Province: "SMY"},
		{Type: "fleet", Power: model.Turkey, Province: "ANK"},
	}

	centers := make(map[string]model.Power, len(units))
	for _, u := range units {
		centers[u.Province] = u.Power
	}

	return &engine.State{
		Year:          1901,
		Season:        model.Spring,
		Phase:         model.PhaseDiplomacy,
		Units:         units,
		SupplyCenters: centers,
	}
}
