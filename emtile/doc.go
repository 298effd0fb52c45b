/*
Package emtile provides types, constants, and functions that have no other dependencies
and can be used by all packages within emtile.  This includes the logging facade,
in-memory image planes, and small path and size helpers shared by the tile codec,
layer assembly, compression, and archival layers.
*/
package emtile
