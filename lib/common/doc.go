// Package common provides the ambient pieces shared by the library packages and
// the CLI: the logging setup and the configuration structures.
//
// Key Components:
//
//   - Logger: custom formatting for dragonboat's logger facade. Packages obtain
//     their logger with logger.GetLogger(common.LogStore) (or another name
//     constant) at package level; InitLoggers installs the factory and sets
//     the level of all named loggers. The badger engine passes its logger
//     straight to badger, which expects the same method set.
//
//   - StoreConfig: the parameters to open a local store (engine, paths,
//     cache size, log level). String() renders the configuration in the
//     sectioned format printed by the CLI.
//
//   - ExtensionsConfig: declarative views, relationships and secondary
//     indexes over JSON documents, usually loaded from a YAML file through
//     viper and turned into extensions by lib/ext/docs.
package common
