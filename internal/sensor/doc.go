// Package sensor stores the TRF parameter catalog and the mapping from hub
// inputs to sensor sections.
//
// A sensor place says "readings that hub D reports on input parameter P belong
// to section S". The telemetry ingest loop resolves every REPORT through the
// Registry, which satisfies trf.SectionResolver:
//
//	repo := sensor.NewSQLiteRepository(db.DB)
//	if err := repo.SeedParams(ctx, trf.Params()); err != nil {
//	    return err
//	}
//	registry := sensor.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
// Only input-channel parameters (PARAMS_INPUT_NUM_<n>) can be placed.
package sensor
