/*
Package datfile decodes and encodes the fixed-layout "dat" tiles written by the
FIB-SEM acquisition software.

A tile file is a 1024 byte header, followed by the pixel payload in row-major,
channel-interleaved order (1 byte per pixel for 8-bit data, 2 bytes big-endian
signed for 16-bit data), followed by an opaque trailer ("recipe") whose length is
the file size minus the FileLength declared in the header.

Tile identity comes from the file name:

	<scope>_<yy-mm-dd>_<HHMMSS>_<section>-<row>-<column>.dat

e.g. Merlin-6257_21-05-20_125416_0-0-1.dat.
*/
package datfile
