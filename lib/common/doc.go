// Package common holds what every other package of dRec shares: the Config a
// Host is created from and the logger setup.
//
// Logging goes through dragonboats logger package (github.com/lni/dragonboat/v4/logger).
// Packages obtain their logger once with logger.GetLogger("<name>"), InitLoggers
// installs a factory that prints
//
//	2025/01/01 12:00:00 INFO  | store           | opened database "main"
//
// lines and sets the level of all loggers from Config.LogLevel.
package common
