// Package crs resolves coordinate reference systems from EPSG codes,
// GeoPackage spatial_ref_sys rows and ESRI .prj WKT, and transforms
// coordinates between them.
//
// The default build projects with github.com/go-spatial/proj and knows
// geographic lon/lat, Web Mercator, Albers equal-area conic and (Universal)
// Transverse Mercator; every transform goes through geographic lon/lat and
// datum shifts between NAD83 and WGS84 are not applied.
//
// Building with -tags proj links libproj through github.com/pebbe/proj. Any
// EPSG code, WKT or PROJ string libproj understands then resolves, and
// transforms use libproj's crs-to-crs pipelines including datum shifts.
package crs
