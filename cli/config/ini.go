package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// INIMainSection holds the relay settings in an INI file. Every other
// section is a pipe, labeled by its section name:
//
//	[Dispipe]
//	token = ${DISCORD_TOKEN}
//	root = /var/dispipe
//
//	[Example]
//	fifo = example.fifo
//	channel = 99999999999999999
const INIMainSection = "Dispipe"

// parseINI maps INI sections onto a File. The sink defaults to discord
// because the INI layout only carries a bot token.
func parseINI(data []byte, name string) (*File, error) {
	src, err := ini.LoadSources(ini.LoadOptions{}, data)
	if err != nil {
		return nil, fmt.Errorf("invalid INI in %s: %w", name, err)
	}

	f := &File{}
	seenMain := false
	for _, sec := range src.Sections() {
		switch sec.Name() {
		case ini.DefaultSection:
			if keys := sec.Keys(); len(keys) > 0 {
				return nil, fmt.Errorf("invalid INI in %s: property %q is outside any section", name, keys[0].Name())
			}
		case INIMainSection:
			seenMain = true
			if err := f.applyINIMain(sec); err != nil {
				return nil, fmt.Errorf("invalid INI in %s: %w", name, err)
			}
		default:
			p := Pipe{Label: sec.Name()}
			for _, k := range sec.Keys() {
				switch k.Name() {
				case "fifo":
					p.FIFO = k.String()
				case "channel":
					p.Channel = k.String()
				default:
					return nil, fmt.Errorf("invalid INI in %s: unknown property %q in section [%s]", name, k.Name(), sec.Name())
				}
			}
			f.Pipes = append(f.Pipes, p)
		}
	}
	if !seenMain {
		return nil, fmt.Errorf("invalid INI in %s: missing main section [%s]", name, INIMainSection)
	}
	return f, nil
}

func (f *File) applyINIMain(sec *ini.Section) error {
	f.Sink.Type = SinkDiscord
	for _, k := range sec.Keys() {
		var err error
		switch k.Name() {
		case "token":
			f.Sink.Token = k.String()
		case "root":
			f.Root = k.String()
		case "sink":
			f.Sink.Type = k.String()
		case "url":
			f.Sink.URL = k.String()
		case "send_timeout":
			err = f.SendTimeout.UnmarshalText([]byte(k.String()))
		case "grace":
			err = f.Grace.UnmarshalText([]byte(k.String()))
		default:
			return fmt.Errorf("unknown property %q in section [%s]", k.Name(), INIMainSection)
		}
		if err != nil {
			return fmt.Errorf("section [%s] %s: %w", INIMainSection, k.Name(), err)
		}
	}
	return nil
}
