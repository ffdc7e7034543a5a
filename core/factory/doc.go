// Package factory instantiates pluggable backends (stores, metrics sinks)
// from a type name plus a map of raw settings taken from the config file.
//
//	reg := factory.NewRegistry[store.Store]()
//	_ = reg.Register("sqlite", func(conf map[string]any) (store.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return OpenSQLite(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "fleet.db"}})
package factory
